// Copyright (c) AgentBus Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。AgentBus 进程持有
两个 Manager 实例(API 服务器与 Metrics 服务器),以 name 区分
日志来源,由 errgroup 统一调度。

# 核心类型

  - Manager:封装 net/http.Server 与 net.Listener,提供
    Start/StartTLS(非阻塞)、Run(阻塞,面向 errgroup)、
    Shutdown(优雅关闭)与 WaitForShutdown(信号监听)。
  - Config:监听地址、读写/空闲超时、最大请求头与关闭超时;
    FromConfig 从应用配置按端口构造,零值回落默认。

# 行为要点

  - Run 在 ctx 取消时执行优雅关闭并返回 nil,服务异常退出时
    返回该错误;适合 g.Go(func() error { return m.Run(ctx) })。
  - Addr 在启动后返回实际绑定地址,支持 :0 随机端口(测试用)。
  - Errors() 暴露异步错误通道,Shutdown 幂等,关闭后不可重启。
*/
package server
