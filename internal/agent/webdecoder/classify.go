package webdecoder

import (
	"bytes"

	"webtriage/pkg/model"
)

const octetStream = "application/octet-stream"

var contentTypeLabels = map[string]model.Label{
	"application/zip":                   model.LabelArchive,
	"application/x-rar-compressed":      model.LabelArchive,
	"application/vnd.ms-cab-compressed": model.LabelArchive,

	"application/x-shockwave-flash":     model.LabelFlash,
	"application/vnd.adobe.flash-movie": model.LabelFlash,
	"application/x-www-form-urlencoded": model.LabelFlash,

	"application/x-msdownload":    model.LabelExecutable,
	"application/exe":             model.LabelExecutable,
	"application/x-msdos-program": model.LabelExecutable,
	"application/x-exe":           model.LabelExecutable,
	"application/dos-exe":         model.LabelExecutable,
	"vms/exe":                     model.LabelExecutable,
	"application/x-winexe":        model.LabelExecutable,
	"application/msdos-windows":   model.LabelExecutable,
}

type magic struct {
	prefixes []string
	label    model.Label
}

// 顺序即优先级：SWF、ZIP、DOS/PE/NE/LE/LX。
var octetStreamMagic = []magic{
	{prefixes: []string{"CWS", "ZWS", "FWS"}, label: model.LabelFlash},
	{prefixes: []string{"PK"}, label: model.LabelArchive},
	{prefixes: []string{"MZ", "NE", "LX", "LE", "PE"}, label: model.LabelExecutable},
}

// Classify 根据声明的 Content-Type 给出展示用分类；
// 只有 application/octet-stream 才会嗅探 body 开头的魔数。
func Classify(contentType string, body []byte) model.Label {
	if label, ok := contentTypeLabels[contentType]; ok {
		return label
	}
	if contentType != octetStream {
		return model.LabelDefault
	}
	for _, m := range octetStreamMagic {
		for _, p := range m.prefixes {
			if bytes.HasPrefix(body, []byte(p)) {
				return m.label
			}
		}
	}
	return model.LabelDefault
}
