package vulkan

import "sync"

type LockGroup string

const (
	CommandPoolManagement LockGroup = "command_pool_management"
	PipelineManagement    LockGroup = "pipeline_management"
	ResourceManagement    LockGroup = "resource_management"
)

// VulkanLockPool serializes access to objects Vulkan requires to be
// externally synchronized: command pools, queues and the pipeline cache.
type VulkanLockPool struct {
	mu           sync.Mutex
	locks        map[LockGroup]*sync.Mutex
	queueMutexes map[uint32]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (p *VulkanLockPool) groupLock(group LockGroup) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[group]
	if !ok {
		l = &sync.Mutex{}
		p.locks[group] = l
	}
	return l
}

func (p *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := p.groupLock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SetQueueFamily registers a queue family before it is used with SafeQueueCall.
func (p *VulkanLockPool) SetQueueFamily(index uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queueMutexes[index]; !ok {
		p.queueMutexes[index] = &sync.Mutex{}
	}
}

// SafeQueueCall runs fn holding the lock of one queue family. Unregistered
// families are registered on first use.
func (p *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	p.SetQueueFamily(queueFamilyIndex)
	p.mu.Lock()
	l := p.queueMutexes[queueFamilyIndex]
	p.mu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn()
}
