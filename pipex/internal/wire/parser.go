package wire

// fieldState enumerates the header field parser states.
type fieldState uint8

const (
	stateBegin fieldState = iota
	stateKey
	stateColon
	stateValue
	stateCR
	stateMatched
)

// FieldParser is an incremental parser for a single "key: value\r\n"
// header line. It is fed one byte at a time and reaches the matched
// state on the terminating "\n" of a well-formed line. Exactly one
// space must follow the colon; "\r" must be followed by "\n". A line
// violating either rule is discarded silently: the parser resets on the
// line's "\n" and is ready for the next field. Each line is parsed
// independently — feeding a byte after a match resets first.
type FieldParser struct {
	state     fieldState
	malformed bool
	key       []byte
	value     []byte
}

// NewFieldParser returns a parser in the begin state.
func NewFieldParser() *FieldParser { return &FieldParser{} }

// Reset returns the parser to its freshly constructed state.
func (p *FieldParser) Reset() {
	p.state = stateBegin
	p.malformed = false
	p.key = p.key[:0]
	p.value = p.value[:0]
}

// Matched reports whether a complete well-formed field has been parsed.
// Key and Value are only meaningful while Matched is true.
func (p *FieldParser) Matched() bool { return p.state == stateMatched }

// Key returns the parsed field name.
func (p *FieldParser) Key() string { return string(p.key) }

// Value returns the parsed field value.
func (p *FieldParser) Value() string { return string(p.value) }

// Feed advances the parser by one byte and reports whether the byte
// completed a well-formed field.
func (p *FieldParser) Feed(c byte) bool {
	if p.state == stateMatched {
		p.Reset()
	}

	switch p.state {
	case stateKey:
		if c == ':' {
			p.state = stateColon
			break
		}
		fallthrough
	case stateBegin:
		p.key = append(p.key, c)
		p.state = stateKey
	case stateColon:
		if c == ' ' {
			p.state = stateValue
		} else {
			p.malformed = true
		}
	case stateValue:
		if c == '\r' {
			p.state = stateCR
		} else {
			p.value = append(p.value, c)
		}
	case stateCR:
		if c == '\n' {
			if !p.malformed {
				p.state = stateMatched
				return true
			}
			p.Reset()
		} else {
			p.malformed = true
		}
	}

	// A newline that did not complete a clean field ends the line:
	// whatever was accumulated is discarded.
	if c == '\n' {
		p.Reset()
	}
	return false
}
