package cluster

import (
	"encoding/json"

	"github.com/tokmz/wspipe/pkg/ws"
)

// encodePacket 编码广播包
func encodePacket(packet *ws.RelayPacket) ([]byte, error) {
	return json.Marshal(packet)
}

// decodePacket 解码广播包
func decodePacket(data []byte) (*ws.RelayPacket, error) {
	packet := &ws.RelayPacket{}
	if err := json.Unmarshal(data, packet); err != nil {
		return nil, err
	}
	return packet, nil
}
