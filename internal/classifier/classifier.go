// Package classifier decides whether a finalised transcript addresses the
// assistant (wake) or ends the interaction (stop).
//
// Classification runs in two tiers. The fast path matches a fixed set of
// regular expressions against the normalised text and is authoritative
// whenever it runs. The remote tier asks an LLM for a strict JSON verdict and
// is consulted only for transcripts the fast path marks as ambiguous, which
// happens only with ambiguity detection enabled: no pattern matched, yet a
// word sounds like the assistant's name. Remote calls are rate limited per
// Classifier; a call inside the cooldown, or any failure, yields the
// conservative {false, false}.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/aurarelay/internal/observe"
	"github.com/MrWong99/aurarelay/pkg/provider/llm"
)

// Defaults applied by [New].
const (
	DefaultAssistantName  = "aura"
	DefaultRemoteInterval = 2 * time.Second
	DefaultRemoteTimeout  = 10 * time.Second
)

var (
	punctuation = regexp.MustCompile(`[.,!?;:]`)
	jsonObject  = regexp.MustCompile(`(?s)\{.*\}`)
	strippedPun = regexp.MustCompile(`[,!?]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Result is the classification of one transcript. Both flags may be set.
type Result struct {
	Wake bool `json:"wake"`
	Stop bool `json:"stop"`
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithAssistantName sets the name the user addresses. Default: "aura".
func WithAssistantName(name string) Option {
	return func(c *Classifier) { c.name = strings.ToLower(strings.TrimSpace(name)) }
}

// WithPhrases adds the configured wake and sleep phrases as extra literal
// patterns. Empty phrases are ignored.
func WithPhrases(wake, sleep string) Option {
	return func(c *Classifier) {
		c.wakePhrase = wake
		c.sleepPhrase = sleep
	}
}

// WithRemote sets the LLM used by the remote tier.
func WithRemote(p llm.Provider) Option {
	return func(c *Classifier) { c.remote = p }
}

// WithAmbiguityDetection lets the fast path hand near misses of the assistant
// name to the remote tier.
func WithAmbiguityDetection(on bool) Option {
	return func(c *Classifier) { c.ambiguity = on }
}

// WithRemoteInterval sets the minimum spacing between remote calls.
func WithRemoteInterval(d time.Duration) Option {
	return func(c *Classifier) { c.interval = d }
}

// WithRemoteTimeout bounds a single remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// Classifier is safe for concurrent use.
type Classifier struct {
	name        string
	wakePhrase  string
	sleepPhrase string
	remote      llm.Provider
	ambiguity   bool
	interval    time.Duration
	timeout     time.Duration
	log         *slog.Logger
	metrics     *observe.Metrics

	wake     []*regexp.Regexp
	bareName *regexp.Regexp
	stop     []*regexp.Regexp
	strip    []*regexp.Regexp
	matcher  *nameMatcher
	limiter  *rate.Limiter
}

// New builds a Classifier. Without [WithRemote] the remote tier is disabled
// and ambiguous transcripts classify as {false, false}.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		name:     DefaultAssistantName,
		interval: DefaultRemoteInterval,
		timeout:  DefaultRemoteTimeout,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.name == "" {
		c.name = DefaultAssistantName
	}

	c.compile()
	c.matcher = newNameMatcher(c.name)
	c.limiter = rate.NewLimiter(rate.Every(c.interval), 1)
	return c
}

// compile builds the pattern sets. "aura" keeps its known mishearings.
func (c *Classifier) compile() {
	name := regexp.QuoteMeta(c.name)
	addressed, ended := name, name
	if c.name == DefaultAssistantName {
		addressed = `aura|ora|or uh|aara`
		ended = `aura|ora`
	}

	wakePhrase := `\b(hey|hi|hello|yo|ok)\s+(` + addressed + `)\b`
	stopPhrase := `\b(bye|stop|cancel|shut up|nevermind|that's all)\s+(` + ended + `)\b`

	c.wake = []*regexp.Regexp{regexp.MustCompile(wakePhrase)}
	c.bareName = regexp.MustCompile(`\b` + name + `\b`)
	if c.name == DefaultAssistantName {
		c.wake = append(c.wake, regexp.MustCompile(`\b(hey|hi)\s+or\b`))
	}
	c.stop = []*regexp.Regexp{
		regexp.MustCompile(stopPhrase),
		regexp.MustCompile(`\bbye\s+` + name + `\b`),
		regexp.MustCompile(`\bstop\s+` + name + `\b`),
		regexp.MustCompile(`\bcancel\b`),
		regexp.MustCompile(`\bnevermind\b`),
	}
	if p := literalPattern(c.wakePhrase); p != nil {
		c.wake = append(c.wake, p)
	}
	if p := literalPattern(c.sleepPhrase); p != nil {
		c.stop = append(c.stop, p)
	}

	c.strip = []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + wakePhrase),
		regexp.MustCompile(`(?i)` + stopPhrase),
		regexp.MustCompile(`(?i)\b` + name + `\b`),
	}
	for _, phrase := range []string{c.wakePhrase, c.sleepPhrase} {
		if p := phrasePattern(phrase, `(?i)`, `[\s.,!?;:]+`); p != nil {
			c.strip = append(c.strip, p)
		}
	}
}

// literalPattern matches a configured phrase on word boundaries after the
// same normalisation transcripts get.
func literalPattern(phrase string) *regexp.Regexp {
	return phrasePattern(phrase, "", `\s+`)
}

// phrasePattern joins the words of phrase with sep. Stripping runs on the raw
// transcript, so it needs case folding and punctuation between words.
func phrasePattern(phrase, flags, sep string) *regexp.Regexp {
	fields := strings.Fields(normalize(phrase))
	if len(fields) == 0 {
		return nil
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return regexp.MustCompile(flags + `\b` + strings.Join(quoted, sep) + `\b`)
}

func normalize(text string) string {
	return punctuation.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

// Classify never fails: remote errors and rate limiting degrade to
// {false, false}.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	res, ambiguous := c.FastPath(text)
	if !ambiguous {
		return res
	}
	return c.classifyRemote(ctx, text)
}

// FastPath runs the pattern tier. ambiguous is true only with ambiguity
// detection on, when no pattern matched but a word resembles the assistant's
// name.
func (c *Classifier) FastPath(text string) (res Result, ambiguous bool) {
	normalized := normalize(text)
	// The bare name only wakes when it is not part of a stop phrase, so
	// "bye aura" is a stop and nothing else.
	remainder := normalized
	for _, p := range c.stop {
		if p.MatchString(remainder) {
			res.Stop = true
			remainder = p.ReplaceAllString(remainder, " ")
		}
	}
	for _, p := range c.wake {
		if p.MatchString(normalized) {
			res.Wake = true
			break
		}
	}
	if !res.Wake && c.bareName.MatchString(remainder) {
		res.Wake = true
	}
	if res.Wake || res.Stop || !c.ambiguity {
		return res, false
	}
	if word, score, ok := c.matcher.nearMiss(normalized); ok {
		c.log.Debug("classifier: ambiguous transcript", "word", word, "score", score)
		return res, true
	}
	return res, false
}

func (c *Classifier) classifyRemote(ctx context.Context, text string) Result {
	if c.remote == nil {
		return Result{}
	}
	if !c.limiter.Allow() {
		c.metrics.RecordRemoteClassification(ctx, observe.OutcomeRateLimited)
		c.log.Debug("classifier: remote tier rate limited")
		return Result{}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.remote.Complete(ctx, llm.UserPrompt(c.prompt(text)))
	if err != nil {
		c.metrics.RecordRemoteClassification(ctx, observe.OutcomeError)
		c.log.Warn("classifier: remote call failed", "error", err)
		return Result{}
	}
	c.metrics.RecordRemoteClassification(ctx, observe.OutcomeOK)
	if resp == nil {
		return Result{}
	}
	return parseVerdict(resp.Content)
}

func (c *Classifier) prompt(text string) string {
	return fmt.Sprintf(`You are a strict JSON classifier for a voice assistant named %q.

Return ONLY valid JSON with this schema:
{"wake": boolean, "stop": boolean}

Rules:
- wake=true if the user is clearly addressing %[1]s (examples: "hey %[2]s", "hi %[2]s", "%[2]s", "yo %[2]s", "ok %[2]s", including likely mishearings of the name).
- stop=true if the user is clearly ending the interaction (examples: "stop %[2]s", "bye %[2]s", "that's all %[2]s", "cancel", "nevermind", "shut up %[2]s").
- If both appear, set both true.
- If neither appears, set both false.

Text:
"""%[3]s"""`, displayName(c.name), c.name, text)
}

func displayName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// parseVerdict extracts the first brace-delimited object from a model reply
// and coerces its fields to booleans.
func parseVerdict(reply string) Result {
	raw := jsonObject.FindString(reply)
	if raw == "" {
		return Result{}
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Result{}
	}
	return Result{Wake: truthy(fields["wake"]), Stop: truthy(fields["stop"])}
}

// truthy mirrors loose boolean coercion: false, 0, "", null and missing are
// false; everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// StripCommand removes wake and stop phrases, the bare assistant name and
// runs of [,!?] from a transcript, collapsing the leftover whitespace. The
// result is what gets forwarded as a command; it may be empty.
func (c *Classifier) StripCommand(text string) string {
	for _, p := range c.strip {
		text = p.ReplaceAllString(text, "")
	}
	text = strippedPun.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
