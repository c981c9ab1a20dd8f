// Package discovery resolves bootstrap peer candidates from a DNS zone
// instead of requiring an operator to pass a literal --bootstrap address. It
// only ever produces a candidate address; the actual join sequence in
// internal/ring is unaffected.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"go.uber.org/zap"

	"chordring/internal/ring"
)

// Resolver looks up bootstrap candidates under a rendezvous DNS domain.
type Resolver struct {
	client       *route53.Client
	hostedZoneID string
	domain       string
	logger       *zap.Logger
}

// New builds a Resolver using the default AWS SDK credential chain for the
// given region.
func New(ctx context.Context, region, hostedZoneID, domain string, logger *zap.Logger) (*Resolver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("discovery: load aws config: %w", err)
	}
	return &Resolver{
		client:       route53.NewFromConfig(awsCfg),
		hostedZoneID: hostedZoneID,
		domain:       domain,
		logger:       logger,
	}, nil
}

// Candidates lists every SRV record under the rendezvous domain and decodes
// each target/port pair into a ring.Peer, in the order the records are
// listed. cmd/chordnode joins through the first candidate only; the others
// are not tried if that join fails.
func (r *Resolver) Candidates(ctx context.Context) ([]ring.Peer, error) {
	out, err := r.client.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    &r.hostedZoneID,
		StartRecordName: &r.domain,
		StartRecordType: types.RRTypeSrv,
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: list SRV records for %s: %w", r.domain, err)
	}

	var peers []ring.Peer
	for _, set := range out.ResourceRecordSets {
		if set.Type != types.RRTypeSrv || set.Name == nil || !strings.EqualFold(strings.TrimSuffix(*set.Name, "."), r.domain) {
			continue
		}
		for _, rec := range set.ResourceRecords {
			if rec.Value == nil {
				continue
			}
			peer, err := parseSRVValue(*rec.Value)
			if err != nil {
				r.logger.Sugar().Debugf("discovery: skipping malformed SRV record %q: %v", *rec.Value, err)
				continue
			}
			peers = append(peers, peer)
		}
	}
	return peers, nil
}

// parseSRVValue decodes the "priority weight port target" shape of an SRV
// record's value into a ring.Peer, ignoring priority/weight (this overlay
// has no need for weighted selection among bootstrap candidates).
func parseSRVValue(value string) (ring.Peer, error) {
	fields := strings.Fields(value)
	if len(fields) != 4 {
		return ring.Peer{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return ring.Peer{}, fmt.Errorf("invalid port %q: %w", fields[2], err)
	}
	return ring.Peer{Host: strings.TrimSuffix(fields[3], "."), Port: port}, nil
}
