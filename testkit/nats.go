package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"

	"github.com/ceyewan/bff/connector"
)

// NewNATSContainerConfig 使用 testcontainers 创建 NATS 容器并返回配置。
// 需要 Docker，未设置 BFF_INTEGRATION 时跳过。
func NewNATSContainerConfig(t *testing.T) *connector.NATSConfig {
	RequireIntegration(t)
	ctx := context.Background()

	container, err := natscontainer.Run(ctx, "nats:2.10-alpine")
	require.NoError(t, err, "failed to start NATS container")

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	return &connector.NATSConfig{
		Name:          "testcontainer-nats",
		URL:           url,
		MaxReconnects: 10,
		ReconnectWait: 100 * time.Millisecond,
	}
}

// NewNATSContainerConnector 使用 testcontainers 创建并连接 NATS 连接器
func NewNATSContainerConnector(t *testing.T) connector.NATSConnector {
	cfg := NewNATSContainerConfig(t)

	conn, err := connector.NewNATS(cfg, connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create nats connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to nats")

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// NewNATSContainerConn 返回原生 NATS 连接
func NewNATSContainerConn(t *testing.T) *nats.Conn {
	return NewNATSContainerConnector(t).GetClient()
}
