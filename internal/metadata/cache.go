// Package metadata maintains a wait-free-readable cache mapping
// private IPv4 addresses to EC2 instance inventory, refreshed
// periodically from AWS. Grounded on
// original_source/probe/enricher.py's IPEnricher, redesigned from its
// threading.Lock-guarded dict copy to an atomic.Pointer snapshot swap
// — the idiomatic Go analogue for "readers never block on a writer".
package metadata

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloudmirror/probe/internal/flow"
	"github.com/cloudmirror/probe/internal/metrics"
)

// refreshInterval matches IPEnricher._refresh_loop's 60s sleep.
const refreshInterval = 60 * time.Second

type snapshot struct {
	byAddr map[flow.Addr]flow.Metadata
}

// Cache is a snapshot-swapped, EC2-backed address-to-metadata lookup.
// Enrich/EnrichMany never block on a refresh in progress: they read
// whatever snapshot was last published.
type Cache struct {
	client ec2.DescribeInstancesAPIClient
	vpcID  string

	current            atomic.Pointer[snapshot]
	duplicateAddrCount atomic.Uint64
}

// New creates a Cache scoped to vpcID (empty means no VPC filter,
// matching enricher.py's behavior when VPC_ID is unset). client need
// only satisfy ec2.DescribeInstancesAPIClient (the interface the SDK's
// own paginator accepts), which lets tests drive refresh with a fake.
func New(client ec2.DescribeInstancesAPIClient, vpcID string) *Cache {
	c := &Cache{client: client, vpcID: vpcID}
	c.current.Store(&snapshot{byAddr: map[flow.Addr]flow.Metadata{}})
	return c
}

// Start performs one blocking refresh so the cache is populated before
// the coordinator starts enriching reports, then launches the 60s
// background refresher. The background refresher stops when ctx is
// cancelled.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return err
	}
	go c.refreshLoop(ctx)
	return nil
}

func (c *Cache) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				slog.Warn("metadata cache refresh failed, keeping stale cache", "error", err)
				metrics.MetadataRefreshErrorsTotal.Inc()
			}
		}
	}
}

// refresh walks every reservation/instance/interface/private-address
// returned by EC2 DescribeInstances (paginated, VPC-scoped when set)
// and publishes a fresh snapshot atomically. On error the existing
// snapshot is left untouched — stale data beats no data.
func (c *Cache) refresh(ctx context.Context) error {
	input := &ec2.DescribeInstancesInput{}
	if c.vpcID != "" {
		input.Filters = []types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{c.vpcID}},
		}
	}

	newMap := make(map[flow.Addr]flow.Metadata)
	var dupCount uint64

	paginator := ec2.NewDescribeInstancesPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				meta := instanceMetadata(inst)
				for _, nic := range inst.NetworkInterfaces {
					for _, pa := range nic.PrivateIpAddresses {
						addr, ok := parseAddr(aws.ToString(pa.PrivateIpAddress))
						if !ok {
							continue
						}
						if _, exists := newMap[addr]; exists {
							dupCount++
						}
						newMap[addr] = meta
					}
				}
			}
		}
	}

	c.current.Store(&snapshot{byAddr: newMap})
	c.duplicateAddrCount.Store(dupCount)
	metrics.MetadataCacheSize.Set(float64(len(newMap)))
	slog.Info("metadata cache refreshed", "addresses", len(newMap), "duplicates", dupCount)
	return nil
}

func instanceMetadata(inst types.Instance) flow.Metadata {
	var name, asg, owner string
	for _, tag := range inst.Tags {
		switch aws.ToString(tag.Key) {
		case "Name":
			name = aws.ToString(tag.Value)
		case "aws:autoscaling:groupName":
			asg = aws.ToString(tag.Value)
		case "Owner":
			owner = aws.ToString(tag.Value)
		}
	}
	return flow.Metadata{
		InstanceID: aws.ToString(inst.InstanceId),
		Name:       name,
		ASG:        asg,
		Owner:      owner,
	}
}

func parseAddr(ip string) (flow.Addr, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return 0, false
	}
	return flow.Addr(uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])), true
}

// Enrich looks up a single address against the current snapshot.
// Returns the zero Metadata (Known() == false) if unmapped.
func (c *Cache) Enrich(addr flow.Addr) flow.Metadata {
	return c.current.Load().byAddr[addr]
}

// EnrichMany looks up every address in addrs against one snapshot
// read, avoiding a snapshot swap mid-batch.
func (c *Cache) EnrichMany(addrs []flow.Addr) map[flow.Addr]flow.Metadata {
	snap := c.current.Load()
	out := make(map[flow.Addr]flow.Metadata, len(addrs))
	for _, a := range addrs {
		if m, ok := snap.byAddr[a]; ok {
			out[a] = m
		}
	}
	return out
}

// DuplicateAddrCount returns how many private addresses in the most
// recent refresh collided across instances/interfaces (last-write-wins).
func (c *Cache) DuplicateAddrCount() uint64 {
	return c.duplicateAddrCount.Load()
}

// Size returns the number of addresses known to the current snapshot.
func (c *Cache) Size() int {
	return len(c.current.Load().byAddr)
}
