package registry

import (
	"context"
	"net"
	"time"
)

// Prober проверяет базовую доступность сайта.
type Prober interface {
	Reachable(ctx context.Context, address string) bool
}

// TCPProber — проверка TCP-соединением с коротким таймаутом.
type TCPProber struct {
	Timeout time.Duration
}

// Reachable реализует Prober.
func (p TCPProber) Reachable(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
