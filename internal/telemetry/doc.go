// Package telemetry 装配 OpenTelemetry SDK:OTLP gRPC 导出器、
// 采样率与服务元数据都从配置读取,初始化完成后注册为全局 provider。
// 遥测关闭时不建任何导出器,全局侧保持 noop,埋点代码无需感知开关。
package telemetry
