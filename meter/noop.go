package meter

import "github.com/ineyio/chatgate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ chatgate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAdmit(chatgate.AdmitEvent)   {}
func (m *NoopMeter) OnResult(chatgate.ResultEvent) {}
