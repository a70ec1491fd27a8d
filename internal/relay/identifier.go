package relay

import "strconv"

// IdentifierFunc derives the externally visible identifier of a new special
// message from its origin coordinates. It is the single seam to replace if
// the transport's numbering scheme ever changes.
type IdentifierFunc func(originChat int64, originSeq int) string

// DeriveIdentifier is the default scheme: "{chat}-{sequence}". The chat
// platform guarantees (chat, sequence) pairs are unique, which carries the
// uniqueness over to the identifier.
func DeriveIdentifier(originChat int64, originSeq int) string {
	return strconv.FormatInt(originChat, 10) + "-" + strconv.Itoa(originSeq)
}
