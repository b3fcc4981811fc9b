// Package auth 实现基于 API Key 的鉴权：密钥来自配置或环境变量，按权限
// 字符串授权，并为每个请求写审计日志。
package auth
