package server

import (
	"sync"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/Trinoooo/eggie_epoll/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const labelComponent = "component"

type MetricsHelper struct {
	registry *prometheus.Registry

	ConnectionAcceptCounter *prometheus.CounterVec // accepted sockets
	ClientRemoveCounter     *prometheus.CounterVec // released handles, any path
	EventCounter            *prometheus.CounterVec // dispatched poller events
	ClientGauge             *prometheus.GaugeVec

	mutex    sync.Mutex
	stopPush chan struct{}
	pushDone chan struct{}
}

// NewMetricsHelper builds a private registry so several engines in one
// process can share a helper without colliding on the default registry.
func NewMetricsHelper() *MetricsHelper {
	mh := &MetricsHelper{
		registry: prometheus.NewRegistry(),
		ConnectionAcceptCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eggie_epoll_connection_accept_counter",
			Help: "sockets accepted by a tcp server",
		}, []string{labelComponent}),
		ClientRemoveCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eggie_epoll_client_remove_counter",
			Help: "client handles closed and released",
		}, []string{labelComponent}),
		EventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eggie_epoll_event_counter",
			Help: "poller events dispatched by the event loop",
		}, []string{labelComponent}),
		ClientGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eggie_epoll_clients",
			Help: "clients currently tracked",
		}, []string{labelComponent}),
	}
	mh.registry.MustRegister(
		mh.ConnectionAcceptCounter,
		mh.ClientRemoveCounter,
		mh.EventCounter,
		mh.ClientGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mh
}

func (mh *MetricsHelper) Registry() *prometheus.Registry {
	return mh.registry
}

// StartPush pushes the registry to a pushgateway every interval until
// StopPush. Calling it again replaces the running pusher.
func (mh *MetricsHelper) StartPush(url, job string, interval time.Duration) {
	mh.StopPush()

	mh.mutex.Lock()
	defer mh.mutex.Unlock()
	stop, done := make(chan struct{}), make(chan struct{})
	mh.stopPush, mh.pushDone = stop, done

	pusher := push.New(url, job).Gatherer(mh.registry)
	logger := logs.With(consts.ComponentCli)
	go func() {
		defer utils.HandlePanic(logger, func() { close(done) })

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := pusher.Add(); err != nil {
					logger.Warn("prometheus pusher push failed", zap.Error(err))
				}
			}
		}
	}()
}

func (mh *MetricsHelper) StopPush() {
	mh.mutex.Lock()
	stop, done := mh.stopPush, mh.pushDone
	mh.stopPush, mh.pushDone = nil, nil
	mh.mutex.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
