package mailparser

import (
	"strings"
)

// Fromのヘッダからメールアドレスを取り出す
func ParseAddress(s string) (name, mbox, host string) {
	var address string
	var quoted bool
	var escape bool
	var afeeld bool
	var comment bool
	var depth int
	var start, end int

	var buf strings.Builder

	for i, r := range s {
		switch {
		case escape:
			escape = false
		case r == '\\':
			escape = true
		case r == '"' && !afeeld && !comment:
			quoted = !quoted
		case r == '(' && !quoted:
			comment = true
			depth = 1
		case r == ')' && comment:
			depth--
			if depth == 0 {
				comment = false
			}
		case comment:
			continue
		case r == '<' && !quoted && !comment:
			afeeld = true
			start = i
		case r == '>' && !quoted && !comment:
			afeeld = false
			end = i
		}
		if !comment {
			buf.WriteRune(r)
		}
	}

	clean := buf.String()

	if start < end {
		address = clean[start+1 : end]
	} else {
		address = clean
	}
	address = strings.TrimSpace(address)
	mbox, host = parseHostDomain(address)

	name = strings.TrimSpace(clean[:start])

	return name, mbox, host
}

// SenderAddress returns the bare mailbox@host of a From header value.
func SenderAddress(from string) string {
	_, mbox, host := ParseAddress(from)
	if host == "" {
		return mbox
	}
	return mbox + "@" + host
}

func parseHostDomain(address string) (mbox, host string) {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return strings.TrimSpace(address), ""
	}

	mbox = strings.TrimSpace(address[:at])
	host = strings.TrimSpace(address[at+1:])

	return mbox, host
}
