package k8sexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"

	"github.com/scoutflo/remote-exec-agent/internal/execresult"
)

// describeResult is the payload describe-pod emits as pretty JSON: the
// pod object (omitted if its fetch failed) plus the events naming it.
type describeResult struct {
	Pod    *corev1.Pod    `json:"pod,omitempty"`
	Events []corev1.Event `json:"events"`
}

// DescribePod fetches the pod object and the events naming it, and
// returns them as pretty JSON. Per the failure-opacity design note,
// a failed pod fetch does not fail the whole request as long as the
// event list still succeeds; only a double failure surfaces an error.
func DescribePod(ctx context.Context, namespace, pod string) (execresult.Output, error) {
	cs, err := getClient()
	if err != nil {
		return execresult.Output{}, err
	}

	podObj, podErr := cs.CoreV1().Pods(namespace).Get(ctx, pod, metav1.GetOptions{})

	selector := fields.Set{
		"involvedObject.name":      pod,
		"involvedObject.namespace": namespace,
	}
	if podErr == nil && podObj.UID != "" {
		selector["involvedObject.uid"] = string(podObj.UID)
	}

	eventList, eventErr := cs.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: selector.AsSelector().String(),
	})

	if podErr != nil && eventErr != nil {
		return execresult.Output{}, fmt.Errorf("k8sexec: describe pod %s/%s: %w", namespace, pod, podErr)
	}

	result := describeResult{}
	if podErr == nil {
		// ManagedFields is server-side bookkeeping noise in a diagnostic
		// dump.
		podObj.ManagedFields = nil
		result.Pod = podObj
	}
	if eventErr == nil {
		result.Events = eventList.Items
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return execresult.Output{}, fmt.Errorf("k8sexec: serializing describe-pod result: %w", err)
	}
	return execresult.Output{Stdout: body}, nil
}

// Log tails up to LogLines of the pod's container output. previous
// selects the prior container instance's log instead of the current one.
func Log(ctx context.Context, namespace, pod string, previous bool) (execresult.Output, error) {
	cs, err := getClient()
	if err != nil {
		return execresult.Output{}, err
	}

	tail := int64(LogLines)
	req := cs.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{
		TailLines: &tail,
		Previous:  previous,
	})

	stream, err := req.Stream(ctx)
	if err != nil {
		return execresult.Output{}, fmt.Errorf("k8sexec: streaming logs for %s/%s: %w", namespace, pod, err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, stream); err != nil {
		return execresult.Output{}, fmt.Errorf("k8sexec: reading logs for %s/%s: %w", namespace, pod, err)
	}
	return execresult.Output{Stdout: buf.Bytes()}, nil
}
