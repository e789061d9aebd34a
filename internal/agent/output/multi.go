package output

import (
	"context"
	"errors"

	"webtriage/internal/agent/webdecoder"
	"webtriage/pkg/model"
)

// Multi 把同一条记录依次交给多个输出端，一个失败不影响其他。
type Multi []webdecoder.Alerter

func (m Multi) Alert(ctx context.Context, tx *model.Transaction) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Alert(ctx, tx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
