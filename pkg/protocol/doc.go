// Package protocol implements the wire format of the UDP messaging transport.
//
// A logical Message is split into at most 255 Packets (fragments), each of
// which fits in a single datagram of at most MaxPacketSize bytes.
//
// # Packet Format
//
// Every packet starts with a 5-byte header:
//   - MessageID (3 bytes): random identifier shared by all fragments
//   - PacketCount (1 byte): total number of fragments
//   - SequenceNumber (1 byte): 0-based index of this fragment
//
// The header is followed by the fragment payload. The last fragment
// (SequenceNumber == PacketCount-1) additionally carries a 10-byte footer:
//   - PayloadType (1 byte): see below
//   - UserID (4 bytes): sender's user id
//   - UnixTime (4 bytes): send time in Unix seconds
//   - Flags (1 byte): FlagEncrypted when the payload is AEAD ciphertext
//
// All multi-byte integers are big-endian.
//
// # Payload Types
//
// Connection Management:
//   - CONNECT, DISCONNECT, HEARTBEAT: empty payloads, always acknowledged
//
// Application:
//   - CHAT: user data, the only encrypted type
//
// Reliability:
//   - ACKNOWLEDGE: empty payload, reuses the ID of the acknowledged message
//   - SELECTIVE_REPEAT: one byte per missing fragment index, reuses the ID
//     of the incomplete message
//
// Handshake:
//   - DH_KEY: raw X25519 public key
//   - PREPARED: empty payload, sent once the session key is derived
//
// # Fragmentation
//
// With F = MaxPacketSize - HeaderSize, a payload of L bytes needs
// ceil((L + FooterSize) / F) fragments. Fragment i carries payload bytes
// [i*F, (i+1)*F); the last fragment carries the remainder followed by the
// footer, so it is always the shorter one.
//
// # Usage Example
//
//	msg, _ := protocol.NewMessage(protocol.PayloadChat, userID, []byte("Hello!"))
//	datagrams, _ := msg.Encode(protocol.MaxPacketSize)
//	for _, d := range datagrams {
//	    conn.WriteToUDP(d, peer)
//	}
package protocol
