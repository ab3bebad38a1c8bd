package govee

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/Drewsername/localweb/internal/utils"
)

// message is the envelope every LAN datagram uses, in both directions:
// {"msg":{"cmd":...,"data":{...}}}
type message struct {
	Msg body `json:"msg"`
}

type body struct {
	Cmd  string `json:"cmd"`
	Data any    `json:"data"`
}

func newMessage(cmd string, data any) message {
	return message{Msg: body{Cmd: cmd, Data: data}}
}

func (m message) encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal lan message")
	}

	return b, nil
}

func scanMessage() message {
	return newMessage("scan", map[string]string{"account_topic": "reserve"})
}

func turnMessage(on bool) message {
	value := 0
	if on {
		value = 1
	}
	return newMessage("turn", map[string]int{"value": value})
}

func brightnessMessage(value int) message {
	return newMessage("brightness", map[string]int{"value": value})
}

type colorData struct {
	Color            rgb `json:"color"`
	ColorTemInKelvin int `json:"colorTemInKelvin"`
}

type rgb struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

func colorMessage(r, g, b uint8) message {
	return newMessage("colorwc", colorData{Color: rgb{R: int(r), G: int(g), B: int(b)}})
}

func colorTempMessage(kelvin int) message {
	return newMessage("colorwc", colorData{ColorTemInKelvin: kelvin})
}

func statusMessage() message {
	return newMessage("devStatus", map[string]any{})
}

// inbound is the reply envelope; data stays raw until the cmd is known.
type inbound struct {
	Msg struct {
		Cmd  string          `json:"cmd"`
		Data json.RawMessage `json:"data"`
	} `json:"msg"`
}

type scanReply struct {
	Device string `json:"device"`
	IP     string `json:"ip"`
	SKU    string `json:"sku"`
}

// statusReply uses pointer fields: firmware variants omit fields, and a
// missing field must read as unknown rather than zero.
type statusReply struct {
	OnOff            *int `json:"onOff"`
	Brightness       *int `json:"brightness"`
	Color            *rgb `json:"color"`
	ColorTemInKelvin *int `json:"colorTemInKelvin"`
}

func parseScanReply(raw []byte) (Device, bool) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Device{}, false
	}
	if in.Msg.Cmd != "" && in.Msg.Cmd != "scan" {
		return Device{}, false
	}

	var reply scanReply
	if err := json.Unmarshal(in.Msg.Data, &reply); err != nil {
		return Device{}, false
	}
	if reply.Device == "" || reply.IP == "" {
		return Device{}, false
	}

	return Device{ID: reply.Device, IP: reply.IP, SKU: reply.SKU}, true
}

func parseStatusReply(raw []byte) (*DeviceStatus, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal status reply")
	}

	var reply statusReply
	if err := json.Unmarshal(in.Msg.Data, &reply); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal status data")
	}

	status := &DeviceStatus{
		OnOff:           reply.OnOff,
		Brightness:      reply.Brightness,
		ColorTempKelvin: reply.ColorTemInKelvin,
	}
	if reply.Color != nil {
		status.Color = &Color{
			R: uint8(utils.Clamp(reply.Color.R, 0, 255)),
			G: uint8(utils.Clamp(reply.Color.G, 0, 255)),
			B: uint8(utils.Clamp(reply.Color.B, 0, 255)),
		}
	}

	return status, nil
}
