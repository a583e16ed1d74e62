package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/jaewoo-rain/webide-broker/internal/logger"
)

// KubernetesAdapter is the cluster-runtime Orchestrator Adapter variant,
// grounded on original_source/app/k8s_vnc.py: one Pod plus one NodePort
// Service per instance.
type KubernetesAdapter struct {
	clientset *kubernetes.Clientset
	restCfg   *rest.Config
	namespace string
}

const vncAppLabel = "sandbox-session"

// NewKubernetesAdapter wraps an already-configured Kubernetes clientset.
func NewKubernetesAdapter(clientset *kubernetes.Clientset, restCfg *rest.Config, namespace string) *KubernetesAdapter {
	return &KubernetesAdapter{clientset: clientset, restCfg: restCfg, namespace: namespace}
}

func (a *KubernetesAdapter) Create(ctx context.Context, name, image string, env map[string]string, ports []PortMap) (*Instance, error) {
	log := logger.Orchestrator()

	labels := map[string]string{
		"app":      vncAppLabel,
		"instance": name,
	}

	envVars := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}

	containerPorts := make([]corev1.ContainerPort, 0, len(ports))
	for _, p := range ports {
		containerPorts = append(containerPorts, corev1.ContainerPort{ContainerPort: int32(p.Internal)})
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{
				{
					Name:  "sandbox",
					Image: image,
					Ports: containerPorts,
					Env:   envVars,
				},
			},
		},
	}

	if _, err := a.clientset.CoreV1().Pods(a.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, &NameInUseError{Name: name}
		}
		return nil, fmt.Errorf("k8s: create pod: %w", err)
	}

	svcPorts := make([]corev1.ServicePort, 0, len(ports))
	for _, p := range ports {
		svcPorts = append(svcPorts, corev1.ServicePort{
			Name:       "novnc",
			Port:       int32(p.Internal),
			TargetPort: intstr.FromInt(p.Internal),
			NodePort:   int32(p.External),
			Protocol:   corev1.ProtocolTCP,
		})
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name + "-svc", Labels: labels},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: map[string]string{"app": vncAppLabel, "instance": name},
			Ports:    svcPorts,
		},
	}

	if _, err := a.clientset.CoreV1().Services(a.namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		_ = a.clientset.CoreV1().Pods(a.namespace).Delete(ctx, name, metav1.DeleteOptions{})
		if isPortRangeConflict(err) {
			return nil, &PortInUseError{}
		}
		return nil, fmt.Errorf("k8s: create service: %w", err)
	}

	log.Info().Str("pod", name).Msg("pod and service created")
	return &Instance{ID: name, Name: name}, nil
}

func (a *KubernetesAdapter) Destroy(ctx context.Context, instance *Instance) error {
	if instance == nil {
		return nil
	}
	_ = a.clientset.CoreV1().Services(a.namespace).Delete(ctx, instance.Name+"-svc", metav1.DeleteOptions{})
	err := a.clientset.CoreV1().Pods(a.namespace).Delete(ctx, instance.ID, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("k8s: delete pod: %w", err)
	}
	return nil
}

func (a *KubernetesAdapter) Lookup(ctx context.Context, idOrPrefix string) (*Instance, error) {
	if pod, err := a.clientset.CoreV1().Pods(a.namespace).Get(ctx, idOrPrefix, metav1.GetOptions{}); err == nil {
		return &Instance{ID: pod.Name, Name: pod.Name}, nil
	}

	pods, err := a.clientset.CoreV1().Pods(a.namespace).List(ctx, metav1.ListOptions{LabelSelector: "app=" + vncAppLabel})
	if err != nil {
		return nil, fmt.Errorf("k8s: list pods: %w", err)
	}

	var matches []corev1.Pod
	for _, p := range pods.Items {
		if strings.HasPrefix(p.Name, idOrPrefix) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &LookupError{Message: "no pod matches id/prefix " + idOrPrefix}
	case 1:
		return &Instance{ID: matches[0].Name, Name: matches[0].Name}, nil
	default:
		return nil, &LookupError{Ambiguous: true, Message: fmt.Sprintf("ambiguous id prefix %q matches %d pods", idOrPrefix, len(matches))}
	}
}

// ExternalPort returns the NodePort bound to instance, or 0 if none.
func (a *KubernetesAdapter) ExternalPort(ctx context.Context, instance *Instance) (int, error) {
	svc, err := a.clientset.CoreV1().Services(a.namespace).Get(ctx, instance.Name+"-svc", metav1.GetOptions{})
	if err != nil || len(svc.Spec.Ports) == 0 {
		return 0, err
	}
	return int(svc.Spec.Ports[0].NodePort), nil
}

func (a *KubernetesAdapter) Exec(ctx context.Context, instance *Instance, argv []string, _ ExecOptions) (*ExecResult, error) {
	var stdout, stderr bytes.Buffer
	err := a.execStream(ctx, instance, argv, false, nil, &stdout, &stderr)
	if err != nil {
		// A non-zero exit is still a completed exec; only transport errors propagate.
		if _, ok := err.(exitError); !ok {
			return nil, err
		}
	}
	exitCode := 0
	if ee, ok := err.(exitError); ok {
		exitCode = ee.code
	}
	return &ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

func (a *KubernetesAdapter) execStream(ctx context.Context, instance *Instance, argv []string, tty bool, stdin io.Reader, stdout, stderr io.Writer) error {
	req := a.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(instance.ID).
		Namespace(a.namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Command: argv,
		Stdin:   stdin != nil,
		Stdout:  stdout != nil,
		Stderr:  stderr != nil,
		TTY:     tty,
	}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(a.restCfg, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("k8s: build executor: %w", err)
	}

	return executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Tty:    tty,
	})
}

func (a *KubernetesAdapter) Attach(ctx context.Context, instance *Instance, argv []string) (PTY, error) {
	pr, pw := io.Pipe()   // client writes -> pod stdin
	outR, outW := io.Pipe() // pod stdout -> client reads

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer outW.Close()
		_ = a.execStream(streamCtx, instance, argv, true, pr, outW, outW)
	}()

	return &kubernetesPTY{
		stdin:  pw,
		stdout: outR,
		cancel: cancel,
		done:   done,
	}, nil
}

// kubernetesPTY adapts a remotecommand stream to the PTY interface using
// an io.Pipe pair in each direction.
type kubernetesPTY struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *kubernetesPTY) Read(buf []byte) (int, error) {
	return p.stdout.Read(buf)
}

func (p *kubernetesPTY) Write(buf []byte) (int, error) {
	return p.stdin.Write(buf)
}

func (p *kubernetesPTY) Close() error {
	p.cancel()
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	<-p.done
	return nil
}

var _ PTY = (*kubernetesPTY)(nil)

func isPortRangeConflict(err error) bool {
	return apierrors.IsInvalid(err) && strings.Contains(err.Error(), "provided port is already allocated")
}
