// Kubernetes backend for the job scheduler (spec §4.9 step 5, "K8s"):
// decodes a base64 kubeconfig blob from the location's credentials,
// constructs a batch/v1 Job manifest (image, args, env, privileged=true,
// restartPolicy=Never, backoffLimit=3, a 120s ttl), and creates it,
// retrying once after creating the namespace if it didn't exist.
//
// Grounded on the pack's two in-cluster-job-creation services,
// crossplane-crossplane and cyverse-de-app-exposer, both of which turn a
// logical unit of work into a k8s Job/Pod via k8s.io/client-go exactly
// this way (BuildConfigFromFlags/NewForConfig, then a typed Jobs().Create
// call) rather than shelling out to kubectl.
package scheduler

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/brane-lang/brane/internal/infra"
)

const jobTTLSeconds = int32(120)
const jobBackoffLimit = int32(3)

// KubernetesBackend dispatches jobs as batch/v1 Jobs. One clientset is
// cached per distinct kubeconfig blob, since a deployment may span several
// Kubernetes-backed locations.
type KubernetesBackend struct {
	clients map[string]kubernetes.Interface
}

func NewKubernetesBackend() *KubernetesBackend {
	return &KubernetesBackend{clients: make(map[string]kubernetes.Interface)}
}

func (k *KubernetesBackend) clientFor(loc infra.Location) (kubernetes.Interface, error) {
	blob := loc.Credentials.KubeconfigPath
	if cli, ok := k.clients[blob]; ok {
		return cli, nil
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("scheduler: kubernetes: decode kubeconfig for %q: %w", loc.ID, err)
	}
	cfg, err := clientcmd.RESTConfigFromKubeConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("scheduler: kubernetes: parse kubeconfig for %q: %w", loc.ID, err)
	}
	cli, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("scheduler: kubernetes: build clientset for %q: %w", loc.ID, err)
	}
	k.clients[blob] = cli
	return cli, nil
}

func (k *KubernetesBackend) Dispatch(ctx context.Context, job Job, loc infra.Location) error {
	cli, err := k.clientFor(loc)
	if err != nil {
		return err
	}

	manifest := buildJobManifest(job, loc.Namespace)

	_, err = cli.BatchV1().Jobs(loc.Namespace).Create(ctx, manifest, metav1.CreateOptions{})
	if apierrors.IsNotFound(err) {
		if _, nsErr := cli.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{Name: loc.Namespace},
		}, metav1.CreateOptions{}); nsErr != nil && !apierrors.IsAlreadyExists(nsErr) {
			return fmt.Errorf("scheduler: kubernetes: create namespace %q: %w", loc.Namespace, nsErr)
		}
		_, err = cli.BatchV1().Jobs(loc.Namespace).Create(ctx, manifest, metav1.CreateOptions{})
	}
	if err != nil {
		return fmt.Errorf("scheduler: kubernetes: create job %s: %w", job.ID, err)
	}
	return nil
}

// buildJobManifest renders job as a batch/v1 Job. Names must be lowercase
// (spec §4.9 step 5), so the job id is lowercased for the k8s object name
// while BRANE_JOB_ID keeps the original casing.
func buildJobManifest(job Job, namespace string) *batchv1.Job {
	env := make([]corev1.EnvVar, 0, len(job.Env))
	for name, value := range job.Env {
		env = append(env, corev1.EnvVar{Name: name, Value: value})
	}

	privileged := true
	name := strings.ToLower(job.ID)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &jobBackoffLimit,
			TTLSecondsAfterFinished: &jobTTLSeconds,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Name: name},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:            name,
							Image:           job.Image,
							Args:            job.Command,
							Env:             env,
							SecurityContext: &corev1.SecurityContext{Privileged: &privileged},
						},
					},
				},
			},
		},
	}
}
