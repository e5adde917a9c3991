package config

import "net"

// DeviceIdentity returns override when set, otherwise the hardware address
// of the first non-loopback interface, or "" when there is none.
func DeviceIdentity(override string) string {
	if override != "" {
		return override
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
