package output

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"webtriage/pkg/model"
)

// Console 每条交易打印一行摘要；开启颜色时按分类着色，每行结束恢复默认颜色。
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	color  bool
	styles map[model.Label]lipgloss.Style
}

func NewConsole(w io.Writer, color bool) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:     w,
		color: color,
		styles: map[model.Label]lipgloss.Style{
			model.LabelArchive:    r.NewStyle().Foreground(lipgloss.Color("3")), // yellow
			model.LabelFlash:      r.NewStyle().Foreground(lipgloss.Color("6")), // cyan
			model.LabelExecutable: r.NewStyle().Foreground(lipgloss.Color("1")), // red
			model.LabelDefault:    r.NewStyle().Foreground(lipgloss.Color("7")), // white
		},
	}
}

func (c *Console) Alert(ctx context.Context, tx *model.Transaction) error {
	line := tx.Summary
	if c.color {
		style, ok := c.styles[tx.Classification]
		if !ok {
			style = c.styles[model.LabelDefault]
		}
		line = style.Render(line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.w, line); err != nil {
		return fmt.Errorf("写控制台失败：%w", err)
	}
	return nil
}
