// Package api 基于 net/http ServeMux 暴露预言创建、交易账本查询、预言机目录
// 与余额接口，并挂载健康检查和指标端点。
package api
