// Package parser decodes the score table the portal embeds, base64-encoded, in its page state.
//
// The decoded payload is a positional token stream: every scalar cell is serialised as
// l<VALUE;>>; and its meaning is given only by its position. The first 19 tokens describe
// page layout, after which each course occupies 22 consecutive tokens.
package parser

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/score-tracker/internal/models"
)

const (
	headerTokens   = 19
	slotsPerCourse = 22

	tokenNull       = `&nbsp\`
	tokenEndOfTable = "o<f>"
)

// Positions within one course cycle. Slots not listed are reserved portal columns.
const (
	slotYear        = 0
	slotSemester    = 1
	slotCourseID    = 2
	slotName        = 3
	slotType        = 4
	slotCredit      = 6
	slotGPA         = 8
	slotNormalScore = 9
	slotRealScore   = 11
	slotTotalScore  = 13
)

var tokenPattern = regexp.MustCompile(`l<([^;]+);+>>;`)

// ErrNoTokens is returned by Tokens when the payload decodes but contains no cell tokens.
var ErrNoTokens = errors.New("no score tokens in payload")

// Recorder receives decode outcomes for instrumentation.
type Recorder interface {
	RecordDecode(courses int, failed bool)
}

// Parser turns portal payloads into course records. It holds no per-run state.
type Parser struct {
	logger   *zap.Logger
	recorder Recorder
}

// New constructs a Parser. Both arguments are optional.
func New(logger *zap.Logger, recorder Recorder) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger, recorder: recorder}
}

// Tokens decodes the payload and returns every cell token in order of appearance.
func (p *Parser) Tokens(blob string) ([]string, error) {
	raw, err := decodeBase64(blob)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	text := strings.ToValidUTF8(string(raw), "")

	matches := tokenPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, ErrNoTokens
	}
	tokens := make([]string, len(matches))
	for i, m := range matches {
		tokens[i] = m[1]
	}
	return tokens, nil
}

// Parse decodes the payload into courses owned by userID. It never fails: a payload that
// cannot be decoded is logged and yields an empty slice.
func (p *Parser) Parse(blob, userID string) []models.Course {
	tokens, err := p.Tokens(blob)
	if err != nil {
		p.logger.Warn("score payload decode failed", zap.String("user_id", userID), zap.Error(err))
		p.record(0, true)
		return []models.Course{}
	}

	courses := assemble(tokens, userID)
	if len(courses) == 0 {
		p.logger.Warn("score payload contained no complete course records",
			zap.String("user_id", userID),
			zap.Int("tokens", len(tokens)))
	} else {
		p.logger.Debug("score payload decoded",
			zap.String("user_id", userID),
			zap.Int("tokens", len(tokens)),
			zap.Int("courses", len(courses)))
	}
	p.record(len(courses), false)
	return courses
}

func (p *Parser) record(courses int, failed bool) {
	if p.recorder != nil {
		p.recorder.RecordDecode(courses, failed)
	}
}

func assemble(tokens []string, userID string) []models.Course {
	courses := make([]models.Course, 0)
	if len(tokens) <= headerTokens {
		return courses
	}

	draft := models.Course{UserID: userID}
	for idx, token := range tokens[headerTokens:] {
		if token == tokenNull {
			token = string(models.ScoreNull)
		}
		if token == tokenEndOfTable {
			break
		}
		token = strings.TrimSpace(token)

		switch idx % slotsPerCourse {
		case slotYear:
			draft.Year = token
		case slotSemester:
			draft.Semester = token
		case slotCourseID:
			draft.CourseID = token
		case slotName:
			draft.Name = token
		case slotType:
			draft.Type = token
		case slotCredit:
			draft.Credit = token
		case slotGPA:
			draft.GPA = token
		case slotNormalScore:
			draft.NormalScore = models.Score(token)
		case slotRealScore:
			draft.RealScore = models.Score(token)
		case slotTotalScore:
			draft.TotalScore = models.Score(token)
			courses = append(courses, draft)
			draft = models.Course{UserID: userID}
		}
	}
	return courses
}

func decodeBase64(blob string) ([]byte, error) {
	compact := strings.Join(strings.Fields(blob), "")
	if compact == "" {
		return nil, errors.New("empty payload")
	}
	raw, err := base64.StdEncoding.DecodeString(compact)
	if err == nil {
		return raw, nil
	}
	if !strings.HasSuffix(compact, "=") {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(compact); rawErr == nil {
			return raw, nil
		}
	}
	return nil, err
}
