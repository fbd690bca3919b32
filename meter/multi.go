package meter

import "github.com/ineyio/chatgate"

// Multi fans events out to several meters in order.
type Multi []chatgate.Meter

var _ chatgate.Meter = Multi(nil)

func (m Multi) OnAdmit(e chatgate.AdmitEvent) {
	for _, mm := range m {
		mm.OnAdmit(e)
	}
}

func (m Multi) OnResult(e chatgate.ResultEvent) {
	for _, mm := range m {
		mm.OnResult(e)
	}
}
