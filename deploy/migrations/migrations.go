// Package migrations 内嵌账本表结构的 SQL 迁移脚本，按文件名顺序执行。
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
