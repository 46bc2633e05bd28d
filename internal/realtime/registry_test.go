package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hearthside/comms/internal/utils"
)

func TestRegistryRoutesToAllConnections(t *testing.T) {
	reg := NewRegistry(nil, time.Minute)
	userID := utils.NewSixID()

	var got []any
	reg.RegisterConnection(userID, "c1", func(p any) { got = append(got, p) })
	reg.RegisterConnection(userID, "c2", func(p any) { got = append(got, p) })

	delivered := reg.RouteToUser(context.Background(), userID, "hello")
	assert.True(t, delivered)
	assert.Len(t, got, 2)
}

func TestRegistryOfflineUser(t *testing.T) {
	reg := NewRegistry(nil, time.Minute)
	userID := utils.NewSixID()

	assert.False(t, reg.IsOnline(context.Background(), userID))
	assert.False(t, reg.RouteToUser(context.Background(), userID, "hello"))
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry(nil, time.Minute)
	userID := utils.NewSixID()

	reg.RegisterConnection(userID, "c1", func(any) {})
	assert.True(t, reg.IsOnline(context.Background(), userID))

	reg.UnregisterConnection(userID, "c1")
	assert.False(t, reg.IsOnline(context.Background(), userID))
}
