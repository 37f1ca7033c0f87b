package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"signal_trader/internal/models"
)

var ErrTemplate = errors.New("invalid template")

var placeholderRe = regexp.MustCompile(`\{(ticker|side|entry|tp1|tp2|tp3|sl|leverage|_\?|_)\}`)

var captureMap = map[string]string{
	"ticker":   `(\w+)`,
	"side":     `(LONG|SHORT|long|short)`,
	"entry":    `([\d,.]+)`,
	"tp1":      `([\d,.]+)`,
	"tp2":      `([\d,.]+)`,
	"tp3":      `([\d,.]+)`,
	"sl":       `([\d,.]+)`,
	"leverage": `(\d+)`,
	"_":        `(?:\S+)`,
	"_?":       `(?:.*?)`,
}

var wsRun = regexp.MustCompile(`\s+`)

// Template — скомпилированный шаблон канала.
type Template struct {
	source string
	re     *regexp.Regexp
	fields []string
}

// Compile превращает шаблон с {плейсхолдерами} в regexp.
// Литеральный текст экранируется, пробельные серии становятся \s+.
func Compile(tpl string) (*Template, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, errors.Wrap(ErrTemplate, "empty template")
	}

	var (
		sb     strings.Builder
		fields []string
		last   int
	)
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(tpl, -1) {
		sb.WriteString(quoteLiteral(tpl[last:loc[0]]))
		name := tpl[loc[2]:loc[3]]
		if name != "_" && name != "_?" {
			fields = append(fields, name)
		}
		sb.WriteString(captureMap[name])
		last = loc[1]
	}
	sb.WriteString(quoteLiteral(tpl[last:]))

	if !containsField(fields, "ticker") {
		return nil, errors.Wrap(ErrTemplate, "template must contain {ticker}")
	}

	re, err := regexp.Compile("(?is)" + sb.String())
	if err != nil {
		return nil, errors.Wrapf(ErrTemplate, "compile: %v", err)
	}
	return &Template{source: tpl, re: re, fields: fields}, nil
}

func quoteLiteral(s string) string {
	if s == "" {
		return ""
	}
	parts := wsRun.Split(s, -1)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func (t *Template) Source() string   { return t.source }
func (t *Template) Pattern() string  { return t.re.String() }
func (t *Template) Fields() []string { return append([]string(nil), t.fields...) }

// Parse применяет шаблон. Нет тикера — не сигнал; нет стороны — defaultSide.
func (t *Template) Parse(text string, defaultSide models.Side) (*models.Signal, bool) {
	m := t.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}

	s := &models.Signal{}
	for i, field := range t.fields {
		value := strings.TrimSpace(m[i+1])
		switch field {
		case "ticker":
			s.Ticker = strings.ToUpper(value)
		case "side":
			if side, ok := models.ParseSide(value); ok {
				s.Side = side
			}
		case "leverage":
			lev, err := strconv.Atoi(value)
			if err != nil {
				lev = 1
			}
			s.Leverage = lev
		default:
			v, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
			if err != nil {
				continue
			}
			switch field {
			case "entry":
				s.Entry = v
			case "tp1":
				s.TP1 = v
			case "tp2":
				s.TP2 = v
			case "tp3":
				s.TP3 = v
			case "sl":
				s.SL = v
			}
		}
	}

	if s.Ticker == "" {
		return nil, false
	}
	if s.Side == "" {
		s.Side = defaultSide
		if s.Side == "" {
			s.Side = models.SideLong
		}
	}
	return s, true
}

// TestResult — ответ проверки шаблона из дашборда.
type TestResult struct {
	Error   string         `json:"error,omitempty"`
	Match   bool           `json:"match"`
	Signal  *models.Signal `json:"signal,omitempty"`
	Fields  []string       `json:"fields_found,omitempty"`
	Pattern string         `json:"pattern,omitempty"`
}

// TestTemplate компилирует шаблон и прогоняет на образце, дефолты симулируются.
func TestTemplate(tpl, sample string, defaultSide models.Side) TestResult {
	t, err := Compile(tpl)
	if err != nil {
		return TestResult{Error: "Template compile error: " + err.Error()}
	}
	s, ok := t.Parse(sample, defaultSide)
	if !ok {
		return TestResult{Match: false, Pattern: t.Pattern()}
	}
	if s.Entry <= 0 {
		s.MarketOrder = true
	} else {
		FillDefaults(s)
	}
	return TestResult{Match: true, Signal: s, Fields: t.Fields(), Pattern: t.Pattern()}
}
