package consts

const (
	Env         = "EGGIE_EPOLL_ENV"         // test / prod
	EnvPrefix   = "EGGIE_EPOLL"             // viper env prefix
	Host        = "EGGIE_EPOLL_HOST"        // 主机名，只支持ip
	Port        = "EGGIE_EPOLL_PORT"        // 端口
	Config      = "EGGIE_EPOLL_CONFIG"      // 配置目录
	MetricsAddr = "EGGIE_EPOLL_METRICS"     // promhttp 监听地址
	HandOff     = "EGGIE_EPOLL_HAND_OFF"    // accept 后交给 ClientListener
	QuitCommand = "EGGIE_EPOLL_QUIT_COMMAND"
)
