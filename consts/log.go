package consts

const (
	LogFieldComponent = "component"
	LogFieldParams    = "params"
	LogFieldValue     = "value"
	LogFieldFd        = "fd"
	LogFieldEvents    = "events"
	LogFieldResult    = "result"
	LogFieldAddr      = "addr"
	LogFieldCount     = "count"
)

const (
	ComponentPoller         = "poller"
	ComponentClientListener = "client_listener"
	ComponentTcpServer      = "tcp_server"
	ComponentCli            = "cli"
)
