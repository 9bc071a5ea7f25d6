package logger

import (
	"strings"

	"github.com/nulzo/gatewayctl/internal/cli"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var pool = buffer.NewPool()

// coloredConsoleEncoder highlights the JSON field block of console lines.
type coloredConsoleEncoder struct {
	zapcore.Encoder
}

func NewColoredConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &coloredConsoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
	}
}

func (c *coloredConsoleEncoder) Clone() zapcore.Encoder {
	return &coloredConsoleEncoder{
		Encoder: c.Encoder.Clone(),
	}
}

// EncodeEntry formats the line with the console encoder, then colors the
// trailing "\t{...}" field block if there is one.
func (c *coloredConsoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf, err := c.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}

	line := buf.String()
	split := strings.Index(line, "\t{")
	if split == -1 {
		return buf, nil
	}

	out := pool.Get()
	out.AppendString(line[:split+1])
	out.AppendString(cli.HighlightJSON(line[split+1:]))
	buf.Free()
	return out, nil
}
