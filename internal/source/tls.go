package source

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
)

// ClientHelloInfo is what the DPI layer extracts from a TLS ClientHello.
type ClientHelloInfo struct {
	SNI string
	JA3 string
}

// greased reports whether v is a GREASE value (RFC 8701). GREASE values
// are excluded from JA3 input.
func greased(v uint16) bool {
	return v&0x0f0f == 0x0a0a && byte(v>>8) == byte(v&0xff)
}

// ParseClientHello extracts the server name and JA3 fingerprint from a TLS
// record containing a ClientHello. Returns nil when payload is not one.
func ParseClientHello(payload []byte) *ClientHelloInfo {
	// TLS record header: type 22 (handshake), version, length.
	if len(payload) < 43 || payload[0] != 0x16 {
		return nil
	}
	recLen := int(binary.BigEndian.Uint16(payload[3:5]))
	if len(payload) < 5+recLen {
		recLen = len(payload) - 5
	}
	hs := payload[5 : 5+recLen]
	// Handshake header: type 1 (client hello).
	if len(hs) < 38 || hs[0] != 0x01 {
		return nil
	}
	version := binary.BigEndian.Uint16(hs[4:6])
	pos := 6 + 32 // version + random

	// Session id.
	if pos >= len(hs) {
		return nil
	}
	pos += 1 + int(hs[pos])
	if pos+2 > len(hs) {
		return nil
	}

	// Cipher suites.
	cipherLen := int(binary.BigEndian.Uint16(hs[pos : pos+2]))
	pos += 2
	if pos+cipherLen > len(hs) {
		return nil
	}
	var ciphers []string
	for i := 0; i+1 < cipherLen; i += 2 {
		c := binary.BigEndian.Uint16(hs[pos+i : pos+i+2])
		if !greased(c) {
			ciphers = append(ciphers, strconv.Itoa(int(c)))
		}
	}
	pos += cipherLen

	// Compression methods.
	if pos >= len(hs) {
		return nil
	}
	pos += 1 + int(hs[pos])

	info := &ClientHelloInfo{}
	var extIDs, curves, pointFmts []string

	if pos+2 <= len(hs) {
		extTotal := int(binary.BigEndian.Uint16(hs[pos : pos+2]))
		pos += 2
		end := pos + extTotal
		if end > len(hs) {
			end = len(hs)
		}
		for pos+4 <= end {
			extType := binary.BigEndian.Uint16(hs[pos : pos+2])
			extLen := int(binary.BigEndian.Uint16(hs[pos+2 : pos+4]))
			body := hs[pos+4:]
			if extLen > len(body) {
				break
			}
			body = body[:extLen]
			if !greased(extType) {
				extIDs = append(extIDs, strconv.Itoa(int(extType)))
			}
			switch extType {
			case 0: // server_name
				info.SNI = parseSNI(body)
			case 10: // supported_groups
				if len(body) >= 2 {
					n := int(binary.BigEndian.Uint16(body[:2]))
					for i := 2; i+1 < 2+n && i+1 < len(body); i += 2 {
						g := binary.BigEndian.Uint16(body[i : i+2])
						if !greased(g) {
							curves = append(curves, strconv.Itoa(int(g)))
						}
					}
				}
			case 11: // ec_point_formats
				if len(body) >= 1 {
					n := int(body[0])
					for i := 1; i < 1+n && i < len(body); i++ {
						pointFmts = append(pointFmts, strconv.Itoa(int(body[i])))
					}
				}
			}
			pos += 4 + extLen
		}
	}

	ja3Input := strings.Join([]string{
		strconv.Itoa(int(version)),
		strings.Join(ciphers, "-"),
		strings.Join(extIDs, "-"),
		strings.Join(curves, "-"),
		strings.Join(pointFmts, "-"),
	}, ",")
	sum := md5.Sum([]byte(ja3Input))
	info.JA3 = hex.EncodeToString(sum[:])
	return info
}

func parseSNI(body []byte) string {
	if len(body) < 2 {
		return ""
	}
	listLen := int(binary.BigEndian.Uint16(body[:2]))
	pos := 2
	end := pos + listLen
	if end > len(body) {
		end = len(body)
	}
	for pos+3 <= end {
		nameType := body[pos]
		nameLen := int(binary.BigEndian.Uint16(body[pos+1 : pos+3]))
		pos += 3
		if pos+nameLen > end {
			return ""
		}
		if nameType == 0 {
			return string(body[pos : pos+nameLen])
		}
		pos += nameLen
	}
	return ""
}
