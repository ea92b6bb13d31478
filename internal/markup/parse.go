package markup

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/conneroisu/hydra/internal/errors"
)

type state int

const (
	stateIdle state = iota
	stateTagStart
	stateTagOpen
	stateTagClose
	stateAttrName
	stateAttrValueStart
	stateAttrValue
	stateAttrEnd
	stateText
	stateDeclaration
)

type parser struct {
	src   string
	pos   int
	line  int
	col   int
	state state

	stack []*Node

	mark     int // start of the token being accumulated
	tagStart int
	el       *Node
	attrName string
	// lastFlag is a bare attribute that may still receive `= value`.
	lastFlag string
	quote    byte
	closed   bool
}

// Parse tokenizes src into a fragment root.
func Parse(src string) (*Node, error) {
	root := NewFragment()
	if err := parseInto(root, src); err != nil {
		return nil, err
	}
	return root, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(src string) *Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

// SetInnerHTML parses src and replaces the children of n with the result.
// On error n is left unchanged.
func (n *Node) SetInnerHTML(src string) error {
	frag, err := Parse(src)
	if err != nil {
		return err
	}
	n.ReplaceChildren(frag.children...)
	if n.isIndexer() {
		n.index = frag.index
		n.indexDirty = false
	}
	return nil
}

func parseInto(root *Node, src string) error {
	p := &parser{src: src, line: 1, col: 1, stack: []*Node{root}}
	return p.run()
}

func (p *parser) top() *Node { return p.stack[len(p.stack)-1] }

func (p *parser) run() error {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch p.state {
		case stateIdle:
			switch {
			case c == '<':
				p.tagStart = p.pos
				p.state = stateTagStart
			case isSpace(c):
			default:
				p.mark = p.pos
				p.state = stateText
			}

		case stateText:
			if c == '<' {
				p.flushText()
				p.tagStart = p.pos
				p.state = stateTagStart
			}

		case stateTagStart:
			switch {
			case c == '/':
				p.mark = p.pos + 1
				p.state = stateTagClose
			case c == '!':
				if err := p.declaration(); err != nil {
					return err
				}
				continue
			case isLetter(c):
				p.mark = p.pos
				p.closed = false
				p.state = stateTagOpen
			default:
				return p.unexpected("expected tag name after '<'")
			}

		case stateTagOpen:
			switch {
			case isNameChar(c):
			case isSpace(c):
				p.openTag()
				p.state = stateAttrName
				p.mark = -1
			case c == '>':
				p.openTag()
				if p.endTag() {
					continue
				}
			case c == '/':
				p.openTag()
				p.closed = true
				p.state = stateAttrEnd
			default:
				return p.unexpected("invalid character in tag name")
			}

		case stateAttrName:
			switch {
			case isSpace(c):
				p.finishAttrName()
			case c == '=':
				p.finishAttrName()
				if p.lastFlag == "" {
					return p.unexpected("attribute value without a name")
				}
				p.attrName = p.lastFlag
				p.lastFlag = ""
				p.state = stateAttrValueStart
			case c == '>':
				p.finishAttrName()
				if p.endTag() {
					continue
				}
			case c == '/':
				p.finishAttrName()
				p.closed = true
				p.state = stateAttrEnd
			case c == '"' || c == '\'' || c == '<':
				return p.unexpected("invalid character in attribute name")
			default:
				if p.mark < 0 {
					p.mark = p.pos
					p.lastFlag = ""
					p.closed = false
				}
			}

		case stateAttrValueStart:
			switch {
			case isSpace(c):
			case c == '"' || c == '\'':
				p.quote = c
				p.mark = p.pos + 1
				p.state = stateAttrValue
			default:
				return p.unexpected("attribute values must be quoted")
			}

		case stateAttrValue:
			if c == p.quote {
				p.el.SetAttr(p.attrName, html.UnescapeString(p.src[p.mark:p.pos]))
				p.attrName = ""
				p.state = stateAttrEnd
			}

		case stateAttrEnd:
			switch {
			case c == '>':
				if p.endTag() {
					continue
				}
			case isSpace(c):
				p.state = stateAttrName
				p.mark = -1
			case c == '/':
				p.closed = true
			default:
				return p.unexpected("expected space, '/' or '>' after attribute")
			}

		case stateTagClose:
			if c == '>' {
				if err := p.closeTag(); err != nil {
					return err
				}
				p.state = stateText
				p.mark = p.pos + 1
			}
		}
		p.advance()
	}
	return p.finish()
}

// advance moves past the current byte, tracking line and rune column.
func (p *parser) advance() {
	c := p.src[p.pos]
	p.pos++
	switch {
	case c == '\n':
		p.line++
		p.col = 1
	case c&0xC0 != 0x80:
		p.col++
	}
}

func (p *parser) advanceTo(pos int) {
	for p.pos < pos && p.pos < len(p.src) {
		p.advance()
	}
}

func (p *parser) flushText() {
	if p.pos > p.mark {
		p.top().adopt(NewText(p.src[p.mark:p.pos]))
	}
}

func (p *parser) openTag() {
	el := NewElement(p.src[p.mark:p.pos])
	parent := p.top()
	parent.adopt(el)
	if el.potential {
		parent.register(el)
	}
	p.el = el
	p.lastFlag = ""
}

func (p *parser) finishAttrName() {
	if p.mark < 0 {
		return
	}
	name := p.src[p.mark:p.pos]
	p.el.SetFlag(name)
	p.lastFlag = name
	p.mark = -1
}

// endTag handles the `>` of an opening tag. It reports whether it already
// moved the cursor, as raw-text elements consume their content at once.
func (p *parser) endTag() bool {
	el := p.el
	p.el = nil
	p.lastFlag = ""
	p.state = stateIdle
	switch {
	case el.selfClosing:
	case p.closed:
		el.closedEmpty = true
	case rawTextElements[el.Tag]:
		p.stack = append(p.stack, el)
		p.advance()
		end := strings.Index(p.src[p.pos:], "</"+el.Tag)
		if end < 0 {
			p.advanceTo(len(p.src))
			return true
		}
		if end > 0 {
			el.adopt(NewText(p.src[p.pos : p.pos+end]))
		}
		p.advanceTo(p.pos + end)
		return true
	default:
		p.stack = append(p.stack, el)
	}
	p.closed = false
	return false
}

func (p *parser) closeTag() error {
	name := strings.TrimSpace(p.src[p.mark:p.pos])
	if len(p.stack) == 1 {
		return p.fail(errors.ErrCodeTagMismatch,
			fmt.Sprintf("unexpected closing tag </%s> with no open element", name))
	}
	open := p.top()
	if open.Tag != name {
		return p.fail(errors.ErrCodeTagMismatch,
			fmt.Sprintf("unexpected closing tag </%s>, expected </%s>", name, open.Tag))
	}
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

// declaration consumes `<!...>` or `<!-- ... -->` as a raw run.
func (p *parser) declaration() error {
	end := -1
	if strings.HasPrefix(p.src[p.pos:], "!--") {
		if i := strings.Index(p.src[p.pos+3:], "-->"); i >= 0 {
			end = p.pos + 3 + i + 3
		}
	} else if i := strings.IndexByte(p.src[p.pos:], '>'); i >= 0 {
		end = p.pos + i + 1
	}
	if end < 0 {
		p.advanceTo(len(p.src))
		return p.fail(errors.ErrCodeUnexpectedEOF, "unterminated declaration or comment")
	}
	p.top().adopt(NewRaw(p.src[p.tagStart:end]))
	p.advanceTo(end)
	p.state = stateIdle
	return nil
}

func (p *parser) finish() error {
	switch p.state {
	case stateText:
		p.flushText()
	case stateIdle:
	default:
		return p.fail(errors.ErrCodeUnexpectedEOF, "unexpected end of input inside a tag")
	}
	if len(p.stack) > 1 {
		return p.fail(errors.ErrCodeUnexpectedEOF,
			fmt.Sprintf("unexpected end of input, <%s> is not closed", p.top().Tag))
	}
	return nil
}

func (p *parser) unexpected(msg string) error {
	r, _ := utf8.DecodeRuneInString(p.src[p.pos:])
	return p.fail(errors.ErrCodeUnexpectedChar, fmt.Sprintf("%s, got %q", msg, r))
}

func (p *parser) fail(code, msg string) error {
	var r rune
	if p.pos < len(p.src) {
		r, _ = utf8.DecodeRuneInString(p.src[p.pos:])
	}
	return errors.NewParseError(code, msg, p.line, p.col, r)
}

func (n *Node) adopt(c *Node) {
	c.parent = n
	n.children = append(n.children, c)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == ':' || c == '.'
}
