package tlslistener

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// mdnsServiceType is the Bonjour service type paired devices browse for.
const mdnsServiceType = "_healthsync._tcp.local."

// mdnsGroupAddr is the standard mDNS multicast group and port.
const mdnsGroupAddr = "224.0.0.251:5353"

// mdnsResponder is a best-effort Bonjour advertiser: it answers PTR, SRV,
// and A queries for the service type on the mDNS multicast group. Failure
// to start it is never fatal to the listener — a client without mDNS
// discovery still pairs via a manually entered host and port.
type mdnsResponder struct {
	conn       *net.UDPConn
	instance   string
	port       int
	hostLabel  string
	logger     *slog.Logger
	closed     chan struct{}
}

func startMDNSResponder(instance string, port int, logger *slog.Logger) (*mdnsResponder, error) {
	group, err := net.ResolveUDPAddr("udp4", mdnsGroupAddr)
	if err != nil {
		return nil, fmt.Errorf("tlslistener: resolve mdns group: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("tlslistener: join mdns group: %w", err)
	}

	hostname, err := net.LookupAddr("127.0.0.1")
	hostLabel := "healthsync.local."
	if err == nil && len(hostname) > 0 {
		hostLabel = dns.Fqdn(hostname[0])
	}

	r := &mdnsResponder{
		conn:      conn,
		instance:  fmt.Sprintf("%s.%s", sanitizeInstance(instance), mdnsServiceType),
		port:      port,
		hostLabel: hostLabel,
		logger:    logger,
		closed:    make(chan struct{}),
	}
	go r.serve()
	return r, nil
}

func (r *mdnsResponder) serve() {
	defer close(r.closed)
	buf := make([]byte, 65535)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			continue
		}
		reply := r.buildReply(msg)
		if reply == nil {
			continue
		}
		packed, err := reply.Pack()
		if err != nil {
			continue
		}
		if _, err := r.conn.WriteToUDP(packed, addr); err != nil && r.logger != nil {
			r.logger.Debug("tlslistener: mdns reply write failed", slog.String("error", err.Error()))
		}
	}
}

func (r *mdnsResponder) buildReply(query *dns.Msg) *dns.Msg {
	if len(query.Question) == 0 {
		return nil
	}
	question := query.Question[0]
	name := strings.ToLower(question.Name)

	reply := new(dns.Msg)
	reply.SetReply(query)
	reply.Authoritative = true
	reply.Compress = true

	switch {
	case name == strings.ToLower(mdnsServiceType) && question.Qtype == dns.TypePTR:
		reply.Answer = append(reply.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: mdnsServiceType, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
			Ptr: r.instance,
		})
	case name == strings.ToLower(r.instance) && question.Qtype == dns.TypeSRV:
		reply.Answer = append(reply.Answer, &dns.SRV{
			Hdr:      dns.RR_Header{Name: r.instance, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120},
			Priority: 0, Weight: 0, Port: uint16(r.port), Target: r.hostLabel,
		})
	case name == strings.ToLower(r.hostLabel) && question.Qtype == dns.TypeA:
		if ip := outboundIPv4(); ip != nil {
			reply.Answer = append(reply.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: r.hostLabel, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
				A:   ip,
			})
		}
	default:
		return nil
	}
	if len(reply.Answer) == 0 {
		return nil
	}
	return reply
}

func (r *mdnsResponder) stop() {
	_ = r.conn.Close()
	<-r.closed
}

func sanitizeInstance(name string) string {
	if strings.TrimSpace(name) == "" {
		return "HealthSync"
	}
	return name
}

func outboundIPv4() net.IP {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}
