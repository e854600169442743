// Package hitl 提供 Human-in-the-Loop 工作流中断与恢复能力。
//
// 该包用于在代理执行过程中注入人工确认节点，支持审批、补充输入、
// 回滚与恢复，适用于高风险决策和关键业务流程。
package hitl
