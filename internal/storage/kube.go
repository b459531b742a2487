package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"jwtauth/pkg/logging"
)

// kubeRewatchDelay is the pause before re-establishing a closed watch.
const kubeRewatchDelay = time.Second

// Kube is a Medium backed by a single Kubernetes Secret. Each key is one
// entry of the Secret's data; pods sharing the Secret observe each other's
// writes through a watch.
type Kube struct {
	client    kubernetes.Interface
	namespace string
	name      string

	hub *hub

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewKube creates a medium storing its data in the Secret namespace/name.
// The Secret is created on first write.
func NewKube(client kubernetes.Interface, namespace, name string) *Kube {
	return &Kube{
		client:    client,
		namespace: namespace,
		name:      name,
		hub:       newHub("KubeStorage"),
		doneCh:    make(chan struct{}),
	}
}

// Get returns the value stored under key, or ErrNotFound.
func (k *Kube) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	secret, err := k.client.CoreV1().Secrets(k.namespace).Get(ctx, k.name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", k.namespace, k.name, err)
	}

	value, ok := secret.Data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// Put stores value under key, creating the Secret if needed.
func (k *Kube) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	secrets := k.client.CoreV1().Secrets(k.namespace)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		secret, err := secrets.Get(ctx, k.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			_, err = secrets.Create(ctx, &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Name:      k.name,
					Namespace: k.namespace,
					Labels: map[string]string{
						"app.kubernetes.io/managed-by": "jwtauth",
					},
				},
				Type: corev1.SecretTypeOpaque,
				Data: map[string][]byte{key: value},
			}, metav1.CreateOptions{})
			if apierrors.IsAlreadyExists(err) {
				// Lost the creation race; retry as an update.
				return apierrors.NewConflict(corev1.Resource("secrets"), k.name, err)
			}
			return err
		}
		if err != nil {
			return err
		}

		if existing, ok := secret.Data[key]; ok && bytes.Equal(existing, value) {
			return nil
		}
		updated := secret.DeepCopy()
		if updated.Data == nil {
			updated.Data = make(map[string][]byte)
		}
		updated.Data[key] = value
		_, err = secrets.Update(ctx, updated, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to secret %s/%s: %w", key, k.namespace, k.name, err)
	}
	return nil
}

// Delete removes key from the Secret. Deleting a missing key is not an error.
func (k *Kube) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	secrets := k.client.CoreV1().Secrets(k.namespace)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		secret, err := secrets.Get(ctx, k.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := secret.Data[key]; !ok {
			return nil
		}

		updated := secret.DeepCopy()
		delete(updated.Data, key)
		_, err = secrets.Update(ctx, updated, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from secret %s/%s: %w", key, k.namespace, k.name, err)
	}
	return nil
}

// Watch reports changes of key made by any pod sharing the Secret.
func (k *Kube) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := k.start(ctx); err != nil {
		return nil, err
	}

	ch, err := k.hub.subscribe(ctx, key)
	if err != nil {
		return nil, err
	}

	value, err := k.Get(ctx, key)
	switch {
	case err == nil:
		k.hub.seed(key, value, true)
	case errors.Is(err, ErrNotFound):
		k.hub.seed(key, nil, false)
	default:
		logging.Warn("KubeStorage", "Failed to read initial value of %s: %v", key, err)
	}
	return ch, nil
}

func (k *Kube) openWatch(ctx context.Context) (watch.Interface, error) {
	return k.client.CoreV1().Secrets(k.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("metadata.name", k.name).String(),
	})
}

// start opens the Secret watch once. The first watch is opened before start
// returns, so no later write is missed.
func (k *Kube) start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return ErrClosed
	}
	if k.started {
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w, err := k.openWatch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch secret %s/%s: %w", k.namespace, k.name, err)
	}

	k.started = true
	k.cancel = cancel
	go k.processEvents(watchCtx, w)

	logging.Debug("KubeStorage", "Watching secret %s/%s", k.namespace, k.name)
	return nil
}

// processEvents consumes the watch, re-opening it whenever the API server
// closes it, until ctx is cancelled.
func (k *Kube) processEvents(ctx context.Context, w watch.Interface) {
	defer close(k.doneCh)

	for {
		k.drain(ctx, w)
		w.Stop()

		select {
		case <-ctx.Done():
			return
		case <-time.After(kubeRewatchDelay):
		}

		var err error
		w, err = k.openWatch(ctx)
		for err != nil {
			logging.Warn("KubeStorage", "Failed to re-open watch on secret %s/%s: %v", k.namespace, k.name, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(kubeRewatchDelay):
			}
			w, err = k.openWatch(ctx)
		}

		// Catch up on anything written while the watch was down.
		k.resync(ctx)
	}
}

func (k *Kube) drain(ctx context.Context, w watch.Interface) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.ResultChan():
			if !ok {
				return
			}
			k.handleEvent(ev)
		}
	}
}

func (k *Kube) handleEvent(ev watch.Event) {
	secret, ok := ev.Object.(*corev1.Secret)
	if !ok || secret.Name != k.name {
		return
	}

	switch ev.Type {
	case watch.Added, watch.Modified:
		k.publishSecret(secret.Data)
	case watch.Deleted:
		k.publishSecret(nil)
	}
}

func (k *Kube) resync(ctx context.Context) {
	secret, err := k.client.CoreV1().Secrets(k.namespace).Get(ctx, k.name, metav1.GetOptions{})
	switch {
	case err == nil:
		k.publishSecret(secret.Data)
	case apierrors.IsNotFound(err):
		k.publishSecret(nil)
	default:
		logging.Warn("KubeStorage", "Failed to resync secret %s/%s: %v", k.namespace, k.name, err)
	}
}

// publishSecret publishes the state of every watched key.
func (k *Kube) publishSecret(data map[string][]byte) {
	for _, key := range k.hub.watchedKeys() {
		if value, ok := data[key]; ok {
			k.hub.publishPut(key, value)
		} else {
			k.hub.publishDelete(key)
		}
	}
}

// Close stops the watch and closes every watcher channel.
func (k *Kube) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	started := k.started
	cancel := k.cancel
	k.mu.Unlock()

	if started {
		cancel()
		<-k.doneCh
	}

	k.hub.close()
	return nil
}
