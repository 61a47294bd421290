package anamnesis

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ehr/intake/internal/platform/apperr"
)

type SignatureMethod string

const (
	MethodDrawing  SignatureMethod = "drawing"
	MethodExternal SignatureMethod = "external"
)

// ParseSignatureMethod accepts any casing. "govbr" is the name older clients
// use for the external provider.
func ParseSignatureMethod(s string) (SignatureMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drawing":
		return MethodDrawing, nil
	case "external", "govbr":
		return MethodExternal, nil
	default:
		return "", fmt.Errorf("%w: unknown signature method %q", apperr.ErrValidation, s)
	}
}

func (m *SignatureMethod) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*m = ""
		return nil
	}
	parsed, err := ParseSignatureMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Signature is either unsigned (zero value), a drawn image stored as a data
// URL, or a token issued by an external signing provider. Never both.
type Signature struct {
	Method        SignatureMethod `json:"method,omitempty"`
	Drawing       string          `json:"drawing,omitempty"`
	ExternalToken string          `json:"external_token,omitempty"`
	SignedAt      *time.Time      `json:"signed_at,omitempty"`
}

func (s Signature) IsSigned() bool {
	return s.Method != ""
}

// Payload returns the value stored for the chosen method.
func (s Signature) Payload() string {
	switch s.Method {
	case MethodDrawing:
		return s.Drawing
	case MethodExternal:
		return s.ExternalToken
	}
	return ""
}

func (s Signature) Validate() error {
	switch s.Method {
	case "":
		if s.Drawing != "" || s.ExternalToken != "" {
			return fmt.Errorf("%w: signature payload without method", apperr.ErrValidation)
		}
	case MethodDrawing:
		if s.Drawing == "" {
			return fmt.Errorf("%w: drawing signature is empty", apperr.ErrValidation)
		}
		if s.ExternalToken != "" {
			return fmt.Errorf("%w: drawing signature carries an external token", apperr.ErrValidation)
		}
	case MethodExternal:
		if s.ExternalToken == "" {
			return fmt.Errorf("%w: external signature token is empty", apperr.ErrValidation)
		}
		if s.Drawing != "" {
			return fmt.Errorf("%w: external signature carries a drawing", apperr.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown signature method %q", apperr.ErrValidation, s.Method)
	}
	return nil
}

// normalized infers a missing method from the payload and drops the payload
// of the method that was not chosen.
func (s Signature) normalized(at time.Time) Signature {
	if s.Method == "" {
		switch {
		case s.Drawing != "":
			s.Method = MethodDrawing
		case s.ExternalToken != "":
			s.Method = MethodExternal
		}
	}
	switch s.Method {
	case MethodDrawing:
		s.ExternalToken = ""
	case MethodExternal:
		s.Drawing = ""
	}
	if !s.IsSigned() {
		s.SignedAt = nil
	} else if s.SignedAt == nil && !at.IsZero() {
		t := at
		s.SignedAt = &t
	}
	return s
}

func (s Signature) clone() Signature {
	if s.SignedAt != nil {
		t := *s.SignedAt
		s.SignedAt = &t
	}
	return s
}

type PadState int

const (
	PadUnsigned PadState = iota
	PadAwaitingDrawing
	PadAwaitingExternal
	PadSigned
)

func (s PadState) String() string {
	switch s {
	case PadUnsigned:
		return "unsigned"
	case PadAwaitingDrawing:
		return "awaiting_drawing"
	case PadAwaitingExternal:
		return "awaiting_external"
	case PadSigned:
		return "signed"
	}
	return "unknown"
}

func (s PadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PadState) UnmarshalText(b []byte) error {
	for _, st := range []PadState{PadUnsigned, PadAwaitingDrawing, PadAwaitingExternal, PadSigned} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown pad state %q", b)
}

var ErrPadTransition = fmt.Errorf("%w: invalid signature transition", apperr.ErrValidation)

// SignaturePad drives the capture of one signature. A pad starts unsigned,
// waits for a drawing or an external token once a method is chosen, and
// ends signed. Reset returns it to unsigned from any state.
type SignaturePad struct {
	mu      sync.Mutex
	state   PadState
	drawing string
	signed  Signature
	now     func() time.Time
}

func NewSignaturePad(now func() time.Time) *SignaturePad {
	if now == nil {
		now = time.Now
	}
	return &SignaturePad{now: now}
}

// Restore puts the pad in the state matching a stored signature.
func (p *SignaturePad) Restore(sig Signature) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawing = ""
	sig = sig.normalized(time.Time{})
	if sig.IsSigned() {
		p.state = PadSigned
		p.signed = sig.clone()
		return
	}
	p.state = PadUnsigned
	p.signed = Signature{}
}

func (p *SignaturePad) State() PadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Signature returns the completed signature, or the zero value while the pad
// is not signed.
func (p *SignaturePad) Signature() Signature {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PadSigned {
		return Signature{}
	}
	return p.signed.clone()
}

// Choose selects the capture method. Switching method discards a drawing in
// progress. A signed pad must be Reset first.
func (p *SignaturePad) Choose(m SignatureMethod) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PadSigned {
		return fmt.Errorf("%w: already signed, reset first", ErrPadTransition)
	}
	switch m {
	case MethodDrawing:
		if p.state != PadAwaitingDrawing {
			p.drawing = ""
		}
		p.state = PadAwaitingDrawing
	case MethodExternal:
		p.drawing = ""
		p.state = PadAwaitingExternal
	default:
		return fmt.Errorf("%w: unknown signature method %q", apperr.ErrValidation, m)
	}
	return nil
}

// Draw replaces the drawing in progress.
func (p *SignaturePad) Draw(dataURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PadAwaitingDrawing {
		return fmt.Errorf("%w: draw in state %s", ErrPadTransition, p.state)
	}
	p.drawing = dataURL
	return nil
}

// CompleteDrawing signs with the current drawing.
func (p *SignaturePad) CompleteDrawing() (Signature, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PadAwaitingDrawing {
		return Signature{}, fmt.Errorf("%w: complete drawing in state %s", ErrPadTransition, p.state)
	}
	if strings.TrimSpace(p.drawing) == "" {
		return Signature{}, fmt.Errorf("%w: drawing signature is empty", apperr.ErrValidation)
	}
	at := p.now()
	p.signed = Signature{Method: MethodDrawing, Drawing: p.drawing, SignedAt: &at}
	p.drawing = ""
	p.state = PadSigned
	return p.signed.clone(), nil
}

// CompleteExternal signs with the token returned by the external provider.
func (p *SignaturePad) CompleteExternal(token string) (Signature, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PadAwaitingExternal {
		return Signature{}, fmt.Errorf("%w: complete external in state %s", ErrPadTransition, p.state)
	}
	if strings.TrimSpace(token) == "" {
		return Signature{}, fmt.Errorf("%w: external signature token is empty", apperr.ErrValidation)
	}
	at := p.now()
	p.signed = Signature{Method: MethodExternal, ExternalToken: token, SignedAt: &at}
	p.state = PadSigned
	return p.signed.clone(), nil
}

func (p *SignaturePad) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = PadUnsigned
	p.drawing = ""
	p.signed = Signature{}
}
