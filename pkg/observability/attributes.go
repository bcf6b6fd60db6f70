package observability

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

var (
	AttrOperation  = attribute.Key("tahu.operation")
	AttrDAOID      = attribute.Key("tahu.dao.id")
	AttrProposalID = attribute.Key("tahu.proposal.id")
	AttrErrorCode  = attribute.Key("tahu.error.code")
)

// DAOOperation tags an operation on one organization.
func DAOOperation(daoID dao.ID) []attribute.KeyValue {
	return []attribute.KeyValue{AttrDAOID.String(string(daoID))}
}

// ProposalOperation tags an operation on one proposal.
func ProposalOperation(daoID dao.ID, proposalID uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDAOID.String(string(daoID)),
		// int64 is the widest integer attribute; ids above it wrap.
		AttrProposalID.Int64(int64(proposalID)),
	}
}
