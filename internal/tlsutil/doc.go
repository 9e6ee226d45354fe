// Package tlsutil 集中放置 TLS 安全基线（TLS 1.2+，仅 AEAD 密码套件）。
// 出站侧由总线的 HTTP 传输使用，入站侧由 internal/server 的 HTTPS 监听使用。
package tlsutil
