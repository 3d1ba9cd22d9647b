package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/require"

	"github.com/cloudmirror/probe/internal/flow"
)

// fakeEC2Client implements ec2.DescribeInstancesAPIClient, driving
// Cache.refresh/Start with canned pages or a forced failure — the seam
// DESIGN.md names for exercising "atomicity of concurrent EnrichMany
// across a refresh" and "fallback-on-failure" without talking to AWS.
type fakeEC2Client struct {
	mu      sync.Mutex
	output  *ec2.DescribeInstancesOutput
	failErr error
	calls   int
}

func (f *fakeEC2Client) DescribeInstances(_ context.Context, _ *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.output, nil
}

func (f *fakeEC2Client) setOutput(out *ec2.DescribeInstancesOutput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output, f.failErr = out, nil
}

func (f *fakeEC2Client) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func instancesOutput(instanceID string, privateIPs ...string) *ec2.DescribeInstancesOutput {
	addrs := make([]types.InstancePrivateIpAddress, 0, len(privateIPs))
	for _, ip := range privateIPs {
		ip := ip
		addrs = append(addrs, types.InstancePrivateIpAddress{PrivateIpAddress: aws.String(ip)})
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{
			{
				Instances: []types.Instance{
					{
						InstanceId: aws.String(instanceID),
						NetworkInterfaces: []types.InstanceNetworkInterface{
							{PrivateIpAddresses: addrs},
						},
					},
				},
			},
		},
	}
}

func TestParseAddrRoundTrip(t *testing.T) {
	addr, ok := parseAddr("10.0.1.2")
	require.True(t, ok)
	require.Equal(t, "10.0.1.2", addr.String())
}

func TestParseAddrRejectsInvalid(t *testing.T) {
	_, ok := parseAddr("not-an-ip")
	require.False(t, ok)

	_, ok = parseAddr("2001:db8::1")
	require.False(t, ok, "IPv6 addresses are out of scope")
}

func newSeededCache(entries map[flow.Addr]flow.Metadata) *Cache {
	c := &Cache{}
	c.current.Store(&snapshot{byAddr: entries})
	return c
}

func TestEnrichReturnsKnownMetadata(t *testing.T) {
	addr, _ := parseAddr("10.0.1.1")
	c := newSeededCache(map[flow.Addr]flow.Metadata{
		addr: {InstanceID: "i-123", Name: "web-1"},
	})

	meta := c.Enrich(addr)
	require.True(t, meta.Known())
	require.Equal(t, "i-123", meta.InstanceID)
}

func TestEnrichUnknownAddrReturnsZeroValue(t *testing.T) {
	c := newSeededCache(map[flow.Addr]flow.Metadata{})
	addr, _ := parseAddr("10.0.1.1")

	meta := c.Enrich(addr)
	require.False(t, meta.Known())
}

func TestEnrichManyOnlyReturnsKnownAddrs(t *testing.T) {
	known, _ := parseAddr("10.0.1.1")
	unknown, _ := parseAddr("10.0.1.2")
	c := newSeededCache(map[flow.Addr]flow.Metadata{
		known: {Name: "web-1"},
	})

	result := c.EnrichMany([]flow.Addr{known, unknown})
	require.Len(t, result, 1)
	_, ok := result[unknown]
	require.False(t, ok)
}

func TestSizeReflectsCurrentSnapshot(t *testing.T) {
	a1, _ := parseAddr("10.0.1.1")
	a2, _ := parseAddr("10.0.1.2")
	c := newSeededCache(map[flow.Addr]flow.Metadata{a1: {}, a2: {}})
	require.Equal(t, 2, c.Size())
}

// TestEnrichManyAtomicAcrossRefresh drives concurrent EnrichMany calls
// against a cache undergoing repeated refreshes between two disjoint
// generations of addresses, and asserts every observed result is
// wholly one generation or the other — never a mix of both — which
// the atomic.Pointer snapshot swap guarantees.
func TestEnrichManyAtomicAcrossRefresh(t *testing.T) {
	fake := &fakeEC2Client{}
	fake.setOutput(instancesOutput("i-gen1", "10.0.1.1", "10.0.1.2"))
	c := New(fake, "")
	require.NoError(t, c.Start(context.Background()))

	gen1, _ := parseAddr("10.0.1.1")
	gen2, _ := parseAddr("10.0.2.1")
	queryAddrs := []flow.Addr{gen1, gen2}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			select {
			case <-stop:
				return
			default:
			}
			result := c.EnrichMany(queryAddrs)
			_, hasGen1 := result[gen1]
			_, hasGen2 := result[gen2]
			if hasGen1 && hasGen2 {
				t.Errorf("EnrichMany returned addresses from both generations in one snapshot read")
			}
		}
	}()

	gen1Output := instancesOutput("i-gen1", "10.0.1.1", "10.0.1.2")
	gen2Output := instancesOutput("i-gen2", "10.0.2.1")
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			fake.setOutput(gen2Output)
		} else {
			fake.setOutput(gen1Output)
		}
		require.NoError(t, c.refresh(context.Background()))
	}

	close(stop)
	wg.Wait()
}

// TestRefreshFailureKeepsStaleSnapshot confirms a failed EC2 refresh
// leaves the previously published snapshot untouched, matching
// enricher.py's "stale data beats no data" fallback behavior.
func TestRefreshFailureKeepsStaleSnapshot(t *testing.T) {
	fake := &fakeEC2Client{}
	fake.setOutput(instancesOutput("i-stale", "10.0.5.1"))
	c := New(fake, "")
	require.NoError(t, c.Start(context.Background()))

	addr, _ := parseAddr("10.0.5.1")
	require.True(t, c.Enrich(addr).Known())
	require.Equal(t, 1, c.Size())

	fake.setFailure(errors.New("describe instances: throttled"))
	err := c.refresh(context.Background())
	require.Error(t, err)

	require.Equal(t, 1, c.Size())
	meta := c.Enrich(addr)
	require.True(t, meta.Known())
	require.Equal(t, "i-stale", meta.InstanceID)
}
