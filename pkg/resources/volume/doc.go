// Package volume implements the block storage resource types:
// AWS::EC2::Volume, OS::Cinder::Volume and their attachment counterparts
// AWS::EC2::VolumeAttachment and OS::Cinder::VolumeAttachment.
//
// Provider operations are asynchronous, so every lifecycle action issues its
// request in the Handle* call and then observes the volume status once per
// Check* call. Multi-step actions (attach, detach, back up then delete) are
// scheduler tasks driven by a runner held as the lifecycle handle.
package volume
