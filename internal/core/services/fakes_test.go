package services

import (
	"context"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"
	"proctorsfu/internal/infrastructure/engine/enginetest"

	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// testStack wires a pool and all registries over the fake engine, the same
// shape main assembles in production.
type testStack struct {
	engine     *enginetest.Engine
	pool       *WorkerPool
	routers    *RouterRegistry
	transports *TransportRegistry
	producers  *ProducerRegistry
	consumers  *ConsumerRegistry
}

func newTestStack(workerCount int) (*testStack, error) {
	engine := enginetest.New()
	pool := NewWorkerPool(engine, ports.WorkerSettings{
		RtcMinPort: 40000,
		RtcMaxPort: 49999,
		ListenIP:   "127.0.0.1",
	}, StrategyRoundRobin, testLogger())

	if err := pool.Initialize(context.Background(), workerCount); err != nil {
		return nil, err
	}

	routers := NewRouterRegistry(pool, domain.DefaultMediaCodecs(), testLogger())
	transports := NewTransportRegistry(routers, ports.WebRtcTransportOptions{ListenIP: "127.0.0.1"}, testLogger())
	producers := NewProducerRegistry(transports, testLogger())
	consumers := NewConsumerRegistry(routers, transports, producers, testLogger())

	return &testStack{
		engine:     engine,
		pool:       pool,
		routers:    routers,
		transports: transports,
		producers:  producers,
		consumers:  consumers,
	}, nil
}
