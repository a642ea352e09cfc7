// Package k8sdiscovery is a helper, not a registered node: it asks a
// Kubernetes cluster how many executor-lane replicas a Pipeline's
// duplicate-count should target when running under an orchestrator.
// `cmd/ serve --autoscale` calls RecommendedReplicas and applies the
// result to every non-source NodeSpec.Threads before building the
// Pipeline. The Pipeline itself has no Kubernetes dependency; this is
// advisory only.
package k8sdiscovery

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// RecommendedReplicas counts Ready nodes carrying labelSelector and
// returns that count as the suggested number of executor-lane
// duplicates. A cluster with zero matching nodes recommends 1 so a
// misconfigured selector degrades to single-replica rather than zero.
func RecommendedReplicas(ctx context.Context, inCluster bool, labelSelector string) (int, error) {
	clientset, err := client(inCluster)
	if err != nil {
		return 0, err
	}

	nodes, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return 0, err
	}

	ready := 0
	for _, node := range nodes.Items {
		for _, cond := range node.Status.Conditions {
			if cond.Type == "Ready" && cond.Status == "True" {
				ready++
				break
			}
		}
	}
	if ready == 0 {
		return 1, nil
	}
	return ready, nil
}

// client builds a clientset: in-cluster config when running as a pod,
// otherwise the operator's kubeconfig.
func client(inCluster bool) (*kubernetes.Clientset, error) {
	if inCluster {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, err
		}
		return kubernetes.NewForConfig(config)
	}

	var kubeconfig string
	if home := homeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	f := flag.Lookup("kubeconfig")
	if f != nil {
		kubeconfig = f.Value.String()
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(config)
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}
