// Package dsl 提供 YAML/JSON 声明式工作流编排语言，
// 支持变量插值、条件分支、循环和子图定义，
// 将工作流定义解析为可执行的 DAG 结构。
package dsl
