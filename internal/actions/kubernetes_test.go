package actions

import (
	"context"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/akmatori/nocpilot/internal/models"
)

func int32Ptr(n int32) *int32 { return &n }

func newFakeCluster() *fake.Clientset {
	return fake.NewSimpleClientset(
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-0", Namespace: "prod"}},
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "prod"},
			Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(2)},
		},
	)
}

func k8sAction(t models.ActionType, params map[string]interface{}) *models.RemediationAction {
	return &models.RemediationAction{ID: "act-1", ActionType: t, Parameters: params}
}

func TestKubernetesExecutor_RestartPod(t *testing.T) {
	client := newFakeCluster()
	exec := NewKubernetesExecutor(client)

	result, err := exec.Execute(context.Background(), k8sAction(models.ActionK8sRestartPod,
		map[string]interface{}{"namespace": "prod", "pod": "web-0"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["pod"] != "web-0" || result["namespace"] != "prod" {
		t.Errorf("unexpected result %v", result)
	}

	_, err = client.CoreV1().Pods("prod").Get(context.Background(), "web-0", metav1.GetOptions{})
	if !apierrors.IsNotFound(err) {
		t.Errorf("expected pod to be deleted, got %v", err)
	}
}

func TestKubernetesExecutor_RestartMissingPod(t *testing.T) {
	exec := NewKubernetesExecutor(newFakeCluster())
	_, err := exec.Execute(context.Background(), k8sAction(models.ActionK8sRestartPod,
		map[string]interface{}{"namespace": "prod", "pod": "ghost"}))
	if err == nil {
		t.Error("expected error for missing pod")
	}
}

func TestKubernetesExecutor_RestartRequiresPod(t *testing.T) {
	exec := NewKubernetesExecutor(newFakeCluster())
	_, err := exec.Execute(context.Background(), k8sAction(models.ActionK8sRestartPod, nil))
	if err == nil {
		t.Error("expected error when pod parameter is missing")
	}
}

func TestKubernetesExecutor_ScaleDeployment(t *testing.T) {
	client := newFakeCluster()
	exec := NewKubernetesExecutor(client)

	_, err := exec.Execute(context.Background(), k8sAction(models.ActionK8sScaleDeployment,
		map[string]interface{}{"namespace": "prod", "deployment": "web", "replicas": float64(5)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dep, err := client.AppsV1().Deployments("prod").Get(context.Background(), "web", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if dep.Spec.Replicas == nil || *dep.Spec.Replicas != 5 {
		t.Errorf("expected 5 replicas, got %v", dep.Spec.Replicas)
	}
}

func TestKubernetesExecutor_ScaleValidation(t *testing.T) {
	exec := NewKubernetesExecutor(newFakeCluster())
	tests := map[string]map[string]interface{}{
		"missing replicas":  {"namespace": "prod", "deployment": "web"},
		"negative replicas": {"namespace": "prod", "deployment": "web", "replicas": -1},
		"fractional":        {"namespace": "prod", "deployment": "web", "replicas": 1.5},
		"non-numeric":       {"namespace": "prod", "deployment": "web", "replicas": "many"},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := exec.Execute(context.Background(), k8sAction(models.ActionK8sScaleDeployment, params))
			if err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestKubernetesExecutor_Rollback(t *testing.T) {
	client := newFakeCluster()
	exec := NewKubernetesExecutor(client)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exec.now = func() time.Time { return fixed }

	result, err := exec.Execute(context.Background(), k8sAction(models.ActionK8sRollback,
		map[string]interface{}{"namespace": "prod", "deployment": "web"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["restarted_at"] != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected restarted_at %v", result["restarted_at"])
	}

	dep, err := client.AppsV1().Deployments("prod").Get(context.Background(), "web", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("failed to get deployment: %v", err)
	}
	if got := dep.Spec.Template.Annotations[restartedAtAnnotation]; got != "2026-03-01T12:00:00Z" {
		t.Errorf("expected restart annotation, got %q", got)
	}
}

func TestKubernetesExecutor_DefaultNamespace(t *testing.T) {
	client := fake.NewSimpleClientset(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "api-0", Namespace: "default"}})
	exec := NewKubernetesExecutor(client)

	result, err := exec.Execute(context.Background(), k8sAction(models.ActionK8sRestartPod,
		map[string]interface{}{"pod": "api-0"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["namespace"] != "default" {
		t.Errorf("expected default namespace, got %v", result["namespace"])
	}
}

func TestKubernetesExecutor_Register(t *testing.T) {
	r := NewRegistry()
	if err := NewKubernetesExecutor(newFakeCluster()).Register(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, typ := range []models.ActionType{models.ActionK8sRestartPod, models.ActionK8sScaleDeployment, models.ActionK8sRollback} {
		if _, res := r.Lookup(typ); res != Handled {
			t.Errorf("expected %s to be handled, got %s", typ, res)
		}
	}
}
