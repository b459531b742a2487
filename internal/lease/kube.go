package lease

import (
	"context"
	"fmt"
	"math"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"jwtauth/pkg/logging"
)

// Kube is a Locker for pods sharing a namespace, backed by a
// coordination.k8s.io/v1 Lease per key. Lease durations have one second
// granularity; shorter TTLs are rounded up.
type Kube struct {
	client    kubernetes.Interface
	namespace string
	now       func() time.Time
}

// NewKube creates a Lease based locker in namespace.
func NewKube(client kubernetes.Interface, namespace string) *Kube {
	return &Kube{client: client, namespace: namespace, now: time.Now}
}

func leaseSeconds(ttl time.Duration) int32 {
	return int32(max(1, math.Ceil(ttl.Seconds())))
}

// recordFromLease converts a Lease to a Record. A lease without holder
// yields nil.
func recordFromLease(key string, l *coordinationv1.Lease) *Record {
	holder := ptr.Deref(l.Spec.HolderIdentity, "")
	if holder == "" {
		return nil
	}
	rec := &Record{
		Key:      key,
		HolderID: holder,
		TTL:      time.Duration(ptr.Deref(l.Spec.LeaseDurationSeconds, 0)) * time.Second,
		token:    l.ResourceVersion,
	}
	switch {
	case l.Spec.RenewTime != nil:
		rec.AcquiredAt = l.Spec.RenewTime.Time
	case l.Spec.AcquireTime != nil:
		rec.AcquiredAt = l.Spec.AcquireTime.Time
	}
	return rec
}

// TryAcquire creates the Lease, or takes it over when it is free or lapsed.
// Concurrent takeovers are decided by the API server's optimistic
// concurrency.
func (k *Kube) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (*Record, bool, error) {
	leases := k.client.CoordinationV1().Leases(k.namespace)
	now := metav1.NewMicroTime(k.now())

	spec := coordinationv1.LeaseSpec{
		HolderIdentity:       ptr.To(holderID),
		LeaseDurationSeconds: ptr.To(leaseSeconds(ttl)),
		AcquireTime:          &now,
		RenewTime:            &now,
	}

	existing, err := leases.Get(ctx, key, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{Name: key, Namespace: k.namespace},
			Spec:       spec,
		}, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to create lease %s: %w", key, err)
		}
		return recordFromLease(key, created), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get lease %s: %w", key, err)
	}

	if cur := recordFromLease(key, existing); cur != nil && !cur.Expired(k.now()) {
		return nil, false, nil
	}

	updated := existing.DeepCopy()
	updated.Spec = spec
	if existing.Spec.LeaseTransitions != nil {
		updated.Spec.LeaseTransitions = ptr.To(*existing.Spec.LeaseTransitions + 1)
	}
	result, err := leases.Update(ctx, updated, metav1.UpdateOptions{})
	if apierrors.IsConflict(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to take over lease %s: %w", key, err)
	}

	logging.Debug("KubeLease", "Took over lease %s/%s", k.namespace, key)
	return recordFromLease(key, result), true, nil
}

// Confirm reports whether the Lease is still held by rec and unexpired.
func (k *Kube) Confirm(ctx context.Context, rec *Record) (bool, error) {
	existing, err := k.client.CoordinationV1().Leases(k.namespace).Get(ctx, rec.Key, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get lease %s: %w", rec.Key, err)
	}

	cur := recordFromLease(rec.Key, existing)
	return cur != nil && cur.HolderID == rec.HolderID && !cur.Expired(k.now()), nil
}

// Release clears the holder of the Lease if rec still holds it.
func (k *Kube) Release(ctx context.Context, rec *Record) error {
	leases := k.client.CoordinationV1().Leases(k.namespace)

	existing, err := leases.Get(ctx, rec.Key, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get lease %s: %w", rec.Key, err)
	}
	if ptr.Deref(existing.Spec.HolderIdentity, "") != rec.HolderID {
		return nil
	}

	updated := existing.DeepCopy()
	updated.Spec.HolderIdentity = nil
	updated.Spec.AcquireTime = nil
	updated.Spec.RenewTime = nil
	if _, err := leases.Update(ctx, updated, metav1.UpdateOptions{}); err != nil && !apierrors.IsConflict(err) {
		return fmt.Errorf("failed to release lease %s: %w", rec.Key, err)
	}
	return nil
}
