package ntp

import (
	"encoding/binary"

	"github.com/google/gopacket"
)

var LayerTypeNTP = gopacket.RegisterLayerType(
	1123,
	gopacket.LayerTypeMetadata{
		Name:    "SynchroClockNTP",
		Decoder: gopacket.DecodeFunc(decodeNTP),
	},
)

var serializeOptions = gopacket.SerializeOptions{}

func newSerializeBuffer() gopacket.SerializeBuffer {
	return gopacket.NewSerializeBufferExpectedSize(PacketLen, 0)
}

// BaseLayer is a convenience struct which implements the LayerData and
// LayerPayload functions of the Layer interface.
// Copy-pasted from gopacket/layers (we avoid importing this due its massive size)
type BaseLayer struct {
	Contents []byte
	Payload  []byte
}

func (b *BaseLayer) LayerContents() []byte { return b.Contents }

func (b *BaseLayer) LayerPayload() []byte { return b.Payload }

func (p *Packet) LayerType() gopacket.LayerType {
	return LayerTypeNTP
}

func (p *Packet) CanDecode() gopacket.LayerClass {
	return LayerTypeNTP
}

func (p *Packet) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

func decodeNTP(data []byte, p gopacket.PacketBuilder) error {
	d := &Packet{}
	err := d.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}

	p.AddLayer(d)
	p.SetApplicationLayer(d)

	return nil
}

func (p *Packet) Payload() []byte {
	return p.BaseLayer.Payload
}

func (p *Packet) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	data, err := b.PrependBytes(PacketLen)
	if err != nil {
		return err
	}

	data[0] = byte(p.LVM)
	data[1] = byte(p.Stratum)
	data[2] = byte(p.Poll)
	data[3] = byte(p.Precision)
	binary.BigEndian.PutUint16(data[4:], p.RootDelay.Seconds)
	binary.BigEndian.PutUint16(data[6:], p.RootDelay.Fraction)
	binary.BigEndian.PutUint16(data[8:], p.RootDispersion.Seconds)
	binary.BigEndian.PutUint16(data[10:], p.RootDispersion.Fraction)
	binary.BigEndian.PutUint32(data[12:], p.ReferenceID)
	binary.BigEndian.PutUint32(data[16:], p.ReferenceTime.Seconds)
	binary.BigEndian.PutUint32(data[20:], p.ReferenceTime.Fraction)
	binary.BigEndian.PutUint32(data[24:], p.OriginTime.Seconds)
	binary.BigEndian.PutUint32(data[28:], p.OriginTime.Fraction)
	binary.BigEndian.PutUint32(data[32:], p.ReceiveTime.Seconds)
	binary.BigEndian.PutUint32(data[36:], p.ReceiveTime.Fraction)
	binary.BigEndian.PutUint32(data[40:], p.TransmitTime.Seconds)
	binary.BigEndian.PutUint32(data[44:], p.TransmitTime.Fraction)

	return nil
}

func (p *Packet) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < PacketLen {
		df.SetTruncated()
		return ErrUnexpectedPacketSize
	}

	p.BaseLayer = BaseLayer{Contents: data[:PacketLen], Payload: data[PacketLen:]}

	p.LVM = uint8(data[0])
	p.Stratum = uint8(data[1])
	p.Poll = int8(data[2])
	p.Precision = int8(data[3])
	p.RootDelay.Seconds = binary.BigEndian.Uint16(data[4:])
	p.RootDelay.Fraction = binary.BigEndian.Uint16(data[6:])
	p.RootDispersion.Seconds = binary.BigEndian.Uint16(data[8:])
	p.RootDispersion.Fraction = binary.BigEndian.Uint16(data[10:])
	p.ReferenceID = binary.BigEndian.Uint32(data[12:])
	p.ReferenceTime.Seconds = binary.BigEndian.Uint32(data[16:])
	p.ReferenceTime.Fraction = binary.BigEndian.Uint32(data[20:])
	p.OriginTime.Seconds = binary.BigEndian.Uint32(data[24:])
	p.OriginTime.Fraction = binary.BigEndian.Uint32(data[28:])
	p.ReceiveTime.Seconds = binary.BigEndian.Uint32(data[32:])
	p.ReceiveTime.Fraction = binary.BigEndian.Uint32(data[36:])
	p.TransmitTime.Seconds = binary.BigEndian.Uint32(data[40:])
	p.TransmitTime.Fraction = binary.BigEndian.Uint32(data[44:])

	return nil
}

// Parser decodes requests into a reused Packet without allocating. It is not
// safe for concurrent use.
type Parser struct {
	Packet Packet

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func NewParser() *Parser {
	p := &Parser{decoded: make([]gopacket.LayerType, 0, 1)}
	p.parser = gopacket.NewDecodingLayerParser(LayerTypeNTP, &p.Packet)
	p.parser.IgnoreUnsupported = true
	return p
}

// Decode parses b into p.Packet. Bytes beyond the header are ignored.
func (p *Parser) Decode(b []byte) error {
	err := p.parser.DecodeLayers(b, &p.decoded)
	if err != nil {
		return err
	}
	if len(p.decoded) == 0 {
		return ErrUnexpectedPacketSize
	}
	return nil
}
