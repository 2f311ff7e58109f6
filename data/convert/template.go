package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rytsh/mugo/fstore"
	_ "github.com/rytsh/mugo/fstore/registry"
	"github.com/rytsh/mugo/templatex"

	"github.com/redpesk-core/go-binder/data"
)

// TemplateConverter renders a Go text/template, using the mugo function
// map, against the input value decoded as JSON, producing a Value
// holding the rendered text.
type TemplateConverter struct {
	text string
}

// NewTemplateConverter holds tmplText for repeated rendering.
func NewTemplateConverter(tmplText string) *TemplateConverter {
	return &TemplateConverter{text: tmplText}
}

// Func returns a data.ConvertFunc rendering the template against in's
// JSON-decoded bytes and producing a Value of outType (normally the
// predefined stringz/bytearray type) holding the rendered bytes.
func (t *TemplateConverter) Func(reg *data.Registry, outType *data.Type) data.ConvertFunc {
	return func(in *Value) (*data.Value, error) {
		return t.convert(reg, outType, in)
	}
}

func (t *TemplateConverter) convert(reg *data.Registry, outType *data.Type, in *Value) (*data.Value, error) {
	var ctx any
	if b := in.Bytes(); len(b) > 0 {
		if err := json.Unmarshal(b, &ctx); err != nil {
			ctx = string(b)
		}
	}

	tpl := templatex.New(
		templatex.WithAddFuncMapWithOpts(func(o templatex.Option) map[string]any {
			return fstore.FuncMap(
				fstore.WithLog(slog.Default()),
				fstore.WithTrust(true),
				fstore.WithExecuteTemplate(o.T),
			)
		}),
	)

	var buf bytes.Buffer
	if err := tpl.Execute(
		templatex.WithIO(&buf),
		templatex.WithContent(t.text),
		templatex.WithData(ctx),
	); err != nil {
		return nil, fmt.Errorf("convert: template execute: %w", err)
	}

	return reg.Copy(outType, buf.Bytes())
}
