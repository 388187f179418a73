package retrieve

import (
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/vectorstore"
)

// SearchMonitor provides hooks to observe the retrieval pipeline.
// Implement this interface to track intermediate candidate sets and scores.
type SearchMonitor interface {
	Start(query string)
	AfterVectorLeg(hits []*vectorstore.Hit)
	AfterKeywordLeg(hits []*vectorstore.Hit)
	AfterFusion(results []*core.RetrievalResult)
	AfterRerank(results []*core.RetrievalResult)
	Finish(results []*core.RetrievalResult)
}

// noopMonitor is a no-op implementation of SearchMonitor.
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                           {}
func (n *noopMonitor) AfterVectorLeg(_ []*vectorstore.Hit)      {}
func (n *noopMonitor) AfterKeywordLeg(_ []*vectorstore.Hit)     {}
func (n *noopMonitor) AfterFusion(_ []*core.RetrievalResult)    {}
func (n *noopMonitor) AfterRerank(_ []*core.RetrievalResult)    {}
func (n *noopMonitor) Finish(_ []*core.RetrievalResult)         {}
