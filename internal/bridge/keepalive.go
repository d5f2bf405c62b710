package bridge

import "time"

// keepalive pings c every interval until the connection ends. A missing pong
// is not treated as a disconnect; only transport errors end a connection.
func keepalive(c *Conn, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
