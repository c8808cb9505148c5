package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

const restartedAtAnnotation = "kubectl.kubernetes.io/restartedAt"

// NewKubernetesClient builds a clientset from a kubeconfig path, or from the in-cluster
// service account when the path is empty.
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
		if err != nil {
			cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
				clientcmd.NewDefaultClientConfigLoadingRules(), nil).ClientConfig()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return clientset, nil
}

// KubernetesExecutor handles the k8s_* action types
type KubernetesExecutor struct {
	client kubernetes.Interface
	now    func() time.Time
}

// NewKubernetesExecutor wraps a clientset
func NewKubernetesExecutor(client kubernetes.Interface) *KubernetesExecutor {
	return &KubernetesExecutor{client: client, now: time.Now}
}

// Register binds the executor to every Kubernetes action type
func (k *KubernetesExecutor) Register(r *Registry) error {
	for _, t := range []models.ActionType{models.ActionK8sRestartPod, models.ActionK8sScaleDeployment, models.ActionK8sRollback} {
		if err := r.Register(t, k); err != nil {
			return err
		}
	}
	return nil
}

// Execute dispatches on the action type
func (k *KubernetesExecutor) Execute(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	switch action.ActionType {
	case models.ActionK8sRestartPod:
		return k.restartPod(ctx, action)
	case models.ActionK8sScaleDeployment:
		return k.scaleDeployment(ctx, action)
	case models.ActionK8sRollback:
		return k.rollbackDeployment(ctx, action)
	default:
		return nil, fmt.Errorf("kubernetes executor cannot run %s", action.ActionType)
	}
}

// restartPod deletes the pod and lets its controller recreate it
func (k *KubernetesExecutor) restartPod(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	namespace := namespaceParam(action)
	pod, err := requireString(action, "pod")
	if err != nil {
		return nil, err
	}

	logging.Infof("Restarting pod %s/%s", namespace, pod)
	if err := k.client.CoreV1().Pods(namespace).Delete(ctx, pod, metav1.DeleteOptions{}); err != nil {
		return nil, fmt.Errorf("failed to delete pod %s/%s: %w", namespace, pod, err)
	}

	return map[string]interface{}{
		"action":    "restart_pod",
		"pod":       pod,
		"namespace": namespace,
	}, nil
}

func (k *KubernetesExecutor) scaleDeployment(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	namespace := namespaceParam(action)
	deployment, err := requireString(action, "deployment")
	if err != nil {
		return nil, err
	}
	replicas, ok, err := intParam(action, "replicas")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: missing required parameter %q", action.ActionType, "replicas")
	}
	if replicas < 0 {
		return nil, fmt.Errorf("%s: replicas must not be negative, got %d", action.ActionType, replicas)
	}

	patch, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{"replicas": replicas},
	})
	if err != nil {
		return nil, err
	}

	logging.Infof("Scaling deployment %s/%s to %d replicas", namespace, deployment, replicas)
	_, err = k.client.AppsV1().Deployments(namespace).Patch(ctx, deployment, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to scale deployment %s/%s: %w", namespace, deployment, err)
	}

	return map[string]interface{}{
		"action":     "scale_deployment",
		"deployment": deployment,
		"namespace":  namespace,
		"replicas":   replicas,
	}, nil
}

// rollbackDeployment stamps the pod template so the deployment rolls its pods
func (k *KubernetesExecutor) rollbackDeployment(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	namespace := namespaceParam(action)
	deployment, err := requireString(action, "deployment")
	if err != nil {
		return nil, err
	}

	stamp := k.now().UTC().Format(time.RFC3339)
	patch, err := json.Marshal(map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"annotations": map[string]string{restartedAtAnnotation: stamp},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	logging.Infof("Rolling back deployment %s/%s", namespace, deployment)
	_, err = k.client.AppsV1().Deployments(namespace).Patch(ctx, deployment, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to roll back deployment %s/%s: %w", namespace, deployment, err)
	}

	return map[string]interface{}{
		"action":       "rollback_deployment",
		"deployment":   deployment,
		"namespace":    namespace,
		"restarted_at": stamp,
	}, nil
}

func namespaceParam(action *models.RemediationAction) string {
	if ns := action.StringParam("namespace"); ns != "" {
		return ns
	}
	return metav1.NamespaceDefault
}
