package model

import "time"

// Label 是下载内容的粗分类，只用于展示。
type Label string

const (
	LabelDefault    Label = "default"
	LabelArchive    Label = "archive"
	LabelFlash      Label = "flash"
	LabelExecutable Label = "executable"
)

// Artifact 表示流量中出现的一个文件（下载的响应体或上传的文件）。
type Artifact struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Data []byte `json:"data,omitempty"`
}

// NewArtifact 对空数据返回 nil，下游不会把空内容当成真实文件。
func NewArtifact(name string, data []byte) *Artifact {
	if len(data) == 0 {
		return nil
	}
	return &Artifact{Name: name, Size: len(data), Data: data}
}

type Transaction struct {
	Summary        string    `json:"summary"`
	RequestInfo    string    `json:"request"`
	ResponseInfo   string    `json:"response"`
	RequestTime    time.Time `json:"request_time"`
	ResponseTime   time.Time `json:"response_time"`
	Method         string    `json:"request_method"`
	Host           string    `json:"host"`
	URI            string    `json:"uri"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	Redirect       string    `json:"redirect"`
	LastModified   string    `json:"lastmodified"`
	Referer        string    `json:"referer"`
	UserAgent      string    `json:"useragent"`
	Via            string    `json:"via"`
	MD5            string    `json:"md5"`
	ResponseSize   int       `json:"responsesize"`
	ContentType    string    `json:"contenttype"`
	Classification Label     `json:"classification"`
	ResponseFile   *Artifact `json:"responsefile,omitempty"`
	UploadFile     *Artifact `json:"uploadfile,omitempty"`
	Conn           ConnInfo  `json:"conn"`
}
