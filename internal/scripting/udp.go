package scripting

import (
	"net"
	"time"

	"github.com/robertkrimen/otto"
)

// registerUDP exposes udp.bind(localAddr) and udp.connect(remoteAddr),
// both returning a socket object whose send/send_to/close methods wrap a
// *net.UDPConn by live closure, the same pattern wrapHeaders/wrapBody use
// for Go-object-into-JS binding. The sockets are ordinary blocking
// sockets; send and send_to set a one-second write deadline, so a send
// can block the worker for up to about a second before it throws.
func registerUDP(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("bind", func(call otto.FunctionCall) otto.Value {
		addr, _ := call.Argument(0).ToString()
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			panic(v.otto.MakeCustomError("UDPError", err.Error()))
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			panic(v.otto.MakeCustomError("UDPError", err.Error()))
		}
		return v.wrapUDPSocket(conn)
	})
	obj.Set("connect", func(call otto.FunctionCall) otto.Value {
		addr, _ := call.Argument(0).ToString()
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			panic(v.otto.MakeCustomError("UDPError", err.Error()))
		}
		conn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			panic(v.otto.MakeCustomError("UDPError", err.Error()))
		}
		return v.wrapUDPSocket(conn)
	})
	return v.otto.Set("udp", obj)
}

func (v *VM) wrapUDPSocket(conn *net.UDPConn) otto.Value {
	obj, _ := v.otto.Object(`({})`)
	obj.Set("send", func(call otto.FunctionCall) otto.Value {
		payload, _ := call.Argument(0).ToString()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		n, err := conn.Write([]byte(payload))
		if err != nil {
			panic(v.otto.MakeCustomError("UDPError", err.Error()))
		}
		r, _ := otto.ToValue(n)
		return r
	})
	obj.Set("send_to", func(call otto.FunctionCall) otto.Value {
		addr, _ := call.Argument(0).ToString()
		payload, _ := call.Argument(1).ToString()
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			panic(v.otto.MakeCustomError("UDPError", err.Error()))
		}
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		n, err := conn.WriteToUDP([]byte(payload), udpAddr)
		if err != nil {
			panic(v.otto.MakeCustomError("UDPError", err.Error()))
		}
		r, _ := otto.ToValue(n)
		return r
	})
	obj.Set("close", func(call otto.FunctionCall) otto.Value {
		conn.Close()
		return otto.Value{}
	})
	return obj.Value()
}
