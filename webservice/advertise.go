package webservice

import (
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_spacescreen._tcp"

// advertise announces the relay over mDNS so viewers on the LAN can find
// it without knowing the address.
func (wm *WebMaster) advertise(port int) error {
	server, err := zeroconf.Register(wm.config.InstanceName, serviceType, "local.", port,
		[]string{"path=/", "ws=/screen/ws", "webrtc=/screen/webrtc"}, nil)
	if err != nil {
		return err
	}
	wm.mu.Lock()
	wm.mdns = server
	wm.mu.Unlock()
	slog.Info("webservice: advertised", "instance", wm.config.InstanceName, "service", serviceType, "port", port)
	return nil
}
