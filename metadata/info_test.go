package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want Info
	}{
		{
			name: "given host port and database, then reports all three",
			cfg:  Config{Host: "db1", Port: 5000, Database: "orders"},
			want: Info{Host: "db1", PortPathOrID: "5000", Database: "orders"},
		},
		{
			name: "given no host, then defaults to localhost",
			cfg:  Config{Port: 5000},
			want: Info{Host: "localhost", PortPathOrID: "5000"},
		},
		{
			name: "given no port, then defaults to 3306",
			cfg:  Config{Host: "db1"},
			want: Info{Host: "db1", PortPathOrID: "3306"},
		},
		{
			name: "given socket path, then reports it in the port position",
			cfg:  Config{Host: "db1", Port: 5000, SocketPath: "/tmp/mysql.sock"},
			want: Info{Host: "db1", PortPathOrID: "/tmp/mysql.sock"},
		},
		{
			name: "given empty config, then reports defaults only",
			cfg:  Config{},
			want: Info{Host: "localhost", PortPathOrID: "3306"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.cfg))
		})
	}
}

func TestFromDSN(t *testing.T) {
	t.Run("given dsn without address, then uses driver defaults", func(t *testing.T) {
		info, err := FromDSN("/orders")
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1", info.Host)
		assert.Equal(t, "3306", info.PortPathOrID)
		assert.Equal(t, "orders", info.Database)
	})

	t.Run("given invalid dsn, then returns error and zero info", func(t *testing.T) {
		info, err := FromDSN("not a dsn")

		assert.ErrorIs(t, err, ErrInvalidDSN)
		assert.True(t, info.IsZero())
	})
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{host: "localhost", want: true},
		{host: "LOCALHOST", want: true},
		{host: "127.0.0.1", want: true},
		{host: "127.0.1.1", want: true},
		{host: "::1", want: true},
		{host: "[::1]", want: true},
		{host: "0.0.0.0", want: true},
		{host: "::", want: true},
		{host: "db1", want: false},
		{host: "10.0.0.5", want: false},
		{host: "", want: false},
	}

	for _, tt := range tests {
		t.Run("given "+tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLoopback(tt.host))
		})
	}
}
